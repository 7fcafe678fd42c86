package mockmonitor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// demoMaxConcurrent caps how many synthetic calls run at once.
const demoMaxConcurrent = 3

// RunDemo drives synthetic traffic through the server until ctx is
// cancelled: calls start and end, tokens accrue, the realtime channel
// flaps, and retry counters tick. Intended for demos and soak testing
// the dashboard's event path.
func (s *Server) RunDemo(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	type demoCall struct {
		id    string
		ticks int
	}
	var calls []demoCall

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, c := range calls {
				s.EndCall(c.id)
			}
			return
		case <-ticker.C:
		}

		keep := calls[:0]
		for _, c := range calls {
			c.ticks--
			if c.ticks <= 0 {
				s.RecordLatency(0.2 + rng.Float64()*1.3)
				s.EndCall(c.id)
				continue
			}
			s.AddTokens(int64(20+rng.Intn(180)), c.id)
			keep = append(keep, c)
		}
		calls = keep

		if len(calls) < demoMaxConcurrent && rng.Intn(3) == 0 {
			id := fmt.Sprintf("demo-%s", uuid.NewString()[:8])
			s.StartCall(id, uuid.NewString())
			calls = append(calls, demoCall{id: id, ticks: 2 + rng.Intn(6)})
		}

		switch rng.Intn(12) {
		case 0:
			s.SetRealtime(false, "keepalive timeout")
		case 1:
			s.SetRealtime(true, "")
		case 2:
			s.RecordAudioEvent("jitter_buffer_reset")
		case 3:
			s.RecordRegisterRetry()
		case 4:
			s.RecordInviteRetry()
		}
	}
}
