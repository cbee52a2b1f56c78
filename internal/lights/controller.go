package lights

import "context"

// Controller drives one light through its vendor transport. Connect
// establishes the session SetState runs on; Close releases it and may be
// followed by another Connect.
type Controller interface {
	Brand() Brand
	Connect(ctx context.Context) error
	SetState(ctx context.Context, lightID int, cmd Command) error
	Close() error
}
