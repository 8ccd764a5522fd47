package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/stocktake/stocktake/internal/reconciler"
	"github.com/stocktake/stocktake/internal/scheduler"
)

// Handler formats domain and sync events as dashboard messages. It
// bridges the daemon's event stream to the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler bound to a dashboard server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// OnRecordChanged broadcasts one record change.
func (h *Handler) OnRecordChanged(collection, id, action string) {
	h.send(MessageTypeRecordUpdate, RecordUpdateData{
		Collection: collection,
		ID:         id,
		Action:     action,
	})
}

// OnSyncComplete broadcasts the outcome of a finished sync pass.
func (h *Handler) OnSyncComplete(result *reconciler.Result) {
	h.send(MessageTypeSyncComplete, SyncCompleteData{
		Synced:   result.Synced(),
		Errors:   result.Errors(),
		Success:  result.Success(),
		Duration: result.Duration,
	})
}

// OnStatus broadcasts a connectivity and pending-work snapshot.
func (h *Handler) OnStatus(status scheduler.Status) {
	h.send(MessageTypeStatus, StatusData{
		Online:    status.Online,
		NeedsSync: status.NeedsSync,
		Unsynced: map[string]int{
			reconciler.CollectionItems:    status.Unsynced.Items,
			reconciler.CollectionSessions: status.Unsynced.Sessions,
			reconciler.CollectionEntries:  status.Unsynced.Entries,
			reconciler.CollectionReports:  status.Unsynced.Reports,
		},
	})
}

func (h *Handler) send(typ MessageType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      payload,
	})
}
