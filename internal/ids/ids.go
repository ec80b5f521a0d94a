// Package ids generates the user-facing identifiers stored in the session
// document: "<prefix>_<epoch-millis>_<random>".
package ids

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	UserPrefix        = "user"
	TripPrefix        = "trip"
	TransactionPrefix = "txn"
)

// Generator stamps ids with creation time. Within one process the
// timestamp never goes backwards; the random suffix keeps ids from
// different processes apart when their clocks agree.
type Generator struct {
	Now func() time.Time

	mu   sync.Mutex
	last int64
}

func NewGenerator() *Generator { return &Generator{Now: time.Now} }

func (g *Generator) New(prefix string) string {
	ms := g.millis()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, ms, suffix)
}

func (g *Generator) millis() int64 {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	ms := now().UnixMilli()
	g.mu.Lock()
	defer g.mu.Unlock()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return ms
}
