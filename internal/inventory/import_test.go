package inventory

import (
	"testing"
)

func TestParseItemImportArray(t *testing.T) {
	data := []byte(`[
		{"id":"srv-9","name":"Olive oil","sku":"OIL-1","category":"food","unit":"l","location":"storeroom"},
		{"name":"Gin","sku":"GIN-1","category":"beverage","unit":"bottle","location":"bar"}
	]`)

	items, err := ParseItemImport(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("parsed %d items, want 2", len(items))
	}
	if items[0].ID != "" {
		t.Error("imported item kept its payload id")
	}
	if items[0].Name != "Olive oil" || items[1].SKU != "GIN-1" {
		t.Errorf("fields lost in parse: %+v", items)
	}
}

func TestParseItemImportSingleObject(t *testing.T) {
	data := []byte(`{"name":"Flour","sku":"FLR-1","category":"food","unit":"kg","location":"storeroom"}`)

	items, err := ParseItemImport(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(items) != 1 || items[0].SKU != "FLR-1" {
		t.Errorf("parsed %+v", items)
	}
}

func TestParseItemImportRejectsGarbage(t *testing.T) {
	if _, err := ParseItemImport([]byte(`"just a string"`)); err == nil {
		t.Error("garbage payload accepted")
	}
}
