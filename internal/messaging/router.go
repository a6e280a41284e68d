package messaging

import (
	"context"
	"fmt"
	"sort"

	"github.com/wolfman30/lead-reengage/internal/leads"
)

// Router sends each delivery through the sender registered for its channel.
type Router struct {
	senders map[leads.Channel]Sender
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{senders: make(map[leads.Channel]Sender)}
}

// Handle registers the sender for a channel, replacing any previous one.
func (r *Router) Handle(ch leads.Channel, s Sender) *Router {
	if s != nil {
		r.senders[ch] = s
	}
	return r
}

// Channels lists the channels with a sender, sorted.
func (r *Router) Channels() []leads.Channel {
	out := make([]leads.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send implements Sender.
func (r *Router) Send(ctx context.Context, d Delivery) (Receipt, error) {
	s, ok := r.senders[d.Channel]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %q", ErrUnsupportedChannel, d.Channel)
	}
	return s.Send(ctx, d)
}
