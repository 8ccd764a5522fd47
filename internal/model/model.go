// Package model defines the entity types shared by the local store, the
// remote client and the reconciler.
//
// Every entity carries the same synchronization shape: domain fields plus
// created/updated timestamps and a local-only synced flag. The flag is the
// single source of truth for "does the reconciler still owe this record a
// push" and is never serialized to the wire.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// NewID returns a fresh client-generated record id.
//
// Ids are stable for the record's lifetime; the only exception is the
// duplicate-key recovery path, where the server assigns a replacement id and
// the store migrates the record (and its weak references) to it.
func NewID() string {
	return uuid.NewString()
}

// SyncMeta is embedded in every entity type.
//
// Synced is local bookkeeping only: json:"-" keeps it off the wire so a push
// never leaks it to the remote service and a pull can never clobber it.
type SyncMeta struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Synced    bool      `json:"-"`
}

// IsSynced reports whether the record has no pending local edits.
func (m SyncMeta) IsSynced() bool { return m.Synced }

// Touch refreshes UpdatedAt. Called on every mutation.
func (m *SyncMeta) Touch() { m.UpdatedAt = time.Now().UTC() }

// StampNew initializes timestamps for a freshly created record and marks it
// dirty so the next pass pushes it.
func (m *SyncMeta) StampNew() {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Synced = false
}

// ItemCategory is the fixed category set for stocked items.
type ItemCategory string

const (
	CategoryFood      ItemCategory = "food"
	CategoryBeverage  ItemCategory = "beverage"
	CategoryCleaning  ItemCategory = "cleaning"
	CategoryEquipment ItemCategory = "equipment"
	CategoryPackaging ItemCategory = "packaging"
	CategoryOther     ItemCategory = "other"
)

// Categories lists all valid item categories, in display order.
func Categories() []ItemCategory {
	return []ItemCategory{
		CategoryFood, CategoryBeverage, CategoryCleaning,
		CategoryEquipment, CategoryPackaging, CategoryOther,
	}
}

// ItemUnit is the fixed unit-of-measure set for stocked items.
type ItemUnit string

const (
	UnitPiece  ItemUnit = "pcs"
	UnitKg     ItemUnit = "kg"
	UnitGram   ItemUnit = "g"
	UnitLiter  ItemUnit = "l"
	UnitMl     ItemUnit = "ml"
	UnitBox    ItemUnit = "box"
	UnitPack   ItemUnit = "pack"
	UnitBottle ItemUnit = "bottle"
)

// Units lists all valid units, in display order.
func Units() []ItemUnit {
	return []ItemUnit{
		UnitPiece, UnitKg, UnitGram, UnitLiter,
		UnitMl, UnitBox, UnitPack, UnitBottle,
	}
}

// KnownLocations lists the suggested storage locations. Location is not a
// strict enum: when the user picks "other" the field holds free text, so
// validation only requires it to be non-empty.
func KnownLocations() []string {
	return []string{"storeroom", "kitchen", "bar", "cellar", "front", "other"}
}

// Item is one stocked product in the catalog.
//
// SKU uniqueness (case-insensitive) and Description uniqueness are enforced
// by the domain layer against the full known item set, not here and not by
// the store: a pull must never fail on a constraint the server does not
// share.
type Item struct {
	ID          string       `json:"id"`
	Name        string       `json:"name" validate:"required"`
	SKU         string       `json:"sku" validate:"required"`
	Category    ItemCategory `json:"category" validate:"required,oneof=food beverage cleaning equipment packaging other"`
	Unit        ItemUnit     `json:"unit" validate:"required,oneof=pcs kg g l ml box pack bottle"`
	Location    string       `json:"location" validate:"required"`
	Description string       `json:"description,omitempty"`
	ImageRef    string       `json:"image_ref,omitempty"`

	SyncMeta
}

// RecordID implements the reconciler record contract.
func (i Item) RecordID() string { return i.ID }

// WithID returns a copy of the item under a different id.
func (i Item) WithID(id string) Item { i.ID = id; return i }

// NormalizedSKU returns the SKU in the form used for uniqueness checks.
func (i Item) NormalizedSKU() string {
	return strings.ToLower(strings.TrimSpace(i.SKU))
}

// Validate checks field-level constraints. Uniqueness is the domain layer's
// job.
func (i Item) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	return nil
}

// SessionStatus is the lifecycle state of a counting session.
type SessionStatus string

const (
	SessionDraft      SessionStatus = "draft"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// Session is one inventory-counting event.
//
// Sessions are created in_progress and become immutable to counting
// operations once completed. Exactly one in_progress session at a time is a
// UI convention, not a structural invariant.
type Session struct {
	ID         string        `json:"id"`
	Date       time.Time     `json:"date" validate:"required"`
	Status     SessionStatus `json:"status" validate:"required,oneof=draft in_progress completed"`
	ItemsCount int           `json:"items_count"`

	SyncMeta
}

func (s Session) RecordID() string { return s.ID }

// WithID returns a copy of the session under a different id.
func (s Session) WithID(id string) Session { s.ID = id; return s }

// Validate checks field-level constraints.
func (s Session) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	return nil
}

// CountEntry is one (session, item) count observation.
//
// SessionID is an owning reference: deleting a session cascades its entries.
// ItemID is a weak reference and survives the item's deletion; the id
// migration path repoints it when an item id is reassigned by the server.
type CountEntry struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id" validate:"required"`
	ItemID           string `json:"item_id" validate:"required"`
	Quantity         int    `json:"quantity" validate:"min=0"`
	PreviousQuantity *int   `json:"previous_quantity,omitempty"`
	Difference       *int   `json:"difference,omitempty"`
	Comment          string `json:"comment,omitempty"`

	SyncMeta
}

func (e CountEntry) RecordID() string { return e.ID }

// WithID returns a copy of the entry under a different id.
func (e CountEntry) WithID(id string) CountEntry { e.ID = id; return e }

// Validate checks field-level constraints.
func (e CountEntry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid count entry: %w", err)
	}
	return nil
}

// ComputeDifference derives Difference from Quantity and PreviousQuantity.
// When no prior quantity is known the difference is unknown, not zero.
func (e *CountEntry) ComputeDifference() {
	if e.PreviousQuantity == nil {
		e.Difference = nil
		return
	}
	d := e.Quantity - *e.PreviousQuantity
	e.Difference = &d
}

// ReportRow is one denormalized per-item line of a report snapshot. ItemName
// is captured at report time so later item edits do not rewrite history.
type ReportRow struct {
	ItemID           string `json:"item_id"`
	ItemName         string `json:"item_name"`
	Quantity         int    `json:"quantity"`
	PreviousQuantity *int   `json:"previous_quantity,omitempty"`
	Difference       *int   `json:"difference,omitempty"`
	Comment          string `json:"comment,omitempty"`
}

// Report is the immutable snapshot produced when a session is completed.
// The sync core never mutates a report beyond its synced flag.
type Report struct {
	ID                      string      `json:"id"`
	SessionID               string      `json:"session_id" validate:"required"`
	Date                    time.Time   `json:"date"`
	TotalItems              int         `json:"total_items"`
	ItemsWithDifference     int         `json:"items_with_difference"`
	PositiveDifferenceCount int         `json:"positive_difference_count"`
	NegativeDifferenceCount int         `json:"negative_difference_count"`
	Rows                    []ReportRow `json:"rows"`

	SyncMeta
}

func (r Report) RecordID() string { return r.ID }

// WithID returns a copy of the report under a different id.
func (r Report) WithID(id string) Report { r.ID = id; return r }

// Validate checks field-level constraints.
func (r Report) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	return nil
}
