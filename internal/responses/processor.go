// Package responses implements the Response Processor (spec.md §4.3): it
// parses inbound frames from the Bus Client and feeds them to the Pending
// Table, which owns all the stats bookkeeping under its single mutex.
package responses

import (
	"encoding/json"
	"log/slog"

	"github.com/helmcam/coordinator/internal/pending"
	"github.com/helmcam/coordinator/internal/protocol"
)

// Processor turns raw bus frames into Table mutations.
type Processor struct {
	table *pending.Table
	log   *slog.Logger
}

func New(table *pending.Table, log *slog.Logger) *Processor {
	return &Processor{table: table, log: log}
}

// HandleFrame decodes one inbound frame and applies it. Malformed JSON is
// dropped with a warning and never reaches the Pending Table (spec.md §4.3
// step 1, §7 "Malformed message").
func (p *Processor) HandleFrame(raw []byte) {
	var resp protocol.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		p.log.Warn("malformed response frame dropped", slog.String("error", err.Error()))
		return
	}

	p.table.RecordResponse(resp)
}
