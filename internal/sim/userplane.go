package sim

import (
	"sync"
	"sync/atomic"

	"github.com/dantte-lp/gorrc/internal/rrc"
)

// Packet is one downlink payload handed to a terminal's logical channel.
type Packet struct {
	Rnti    uint16
	Lcid    uint8
	Payload []byte
}

// UserPlane collects downlink data delivered by a Controller.
type UserPlane struct {
	mu      sync.Mutex
	packets []Packet
	total   atomic.Uint64
}

var _ rrc.UserPlaneSap = (*UserPlane)(nil)

// NewUserPlane creates an empty user plane.
func NewUserPlane() *UserPlane {
	return &UserPlane{}
}

// DeliverDownlink records a copy of payload.
func (u *UserPlane) DeliverDownlink(rnti uint16, lcid uint8, payload []byte) {
	p := Packet{Rnti: rnti, Lcid: lcid, Payload: append([]byte(nil), payload...)}

	u.mu.Lock()
	u.packets = append(u.packets, p)
	u.mu.Unlock()

	u.total.Add(1)
}

// Delivered returns the packets delivered to rnti in arrival order.
func (u *UserPlane) Delivered(rnti uint16) []Packet {
	u.mu.Lock()
	defer u.mu.Unlock()

	var out []Packet
	for _, p := range u.packets {
		if p.Rnti == rnti {
			out = append(out, p)
		}
	}
	return out
}

// Total returns the number of packets delivered so far.
func (u *UserPlane) Total() uint64 {
	return u.total.Load()
}
