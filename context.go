package pollen

import "context"

// channelKey is an unexported type used as the context key for the delivery
// channel. Using an unexported struct type prevents collisions with keys from
// other packages.
type channelKey struct{}

// ContextWithChannel attaches a delivery channel to the context.
func ContextWithChannel(ctx context.Context, ch Channel) context.Context {
	return context.WithValue(ctx, channelKey{}, ch)
}

// ChannelFromContext retrieves the channel the current delivery pass runs
// under. Returns the zero channel for broadcast deliveries and for contexts
// that did not come from a delivery pass.
func ChannelFromContext(ctx context.Context) Channel {
	if ch, ok := ctx.Value(channelKey{}).(Channel); ok {
		return ch
	}
	return Channel{}
}
