package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
)

// Actions is what a command can do to a driver's live session. The
// engine implements it.
type Actions interface {
	ForceClockIn(ctx context.Context, driverID, reason string) error
	ForceClockOut(ctx context.Context, driverID, reason string) error
	DeliverMessage(ctx context.Context, driverID, message string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, driverID, collection string, op syncq.Operation, payload any) (syncq.Item, error)
}

// Dispatcher maps a command's action onto the matching engine call,
// independent of how the command arrived. A command acknowledges only
// after its action succeeded, so an unexecuted command stays visible
// for the issuer to retry.
type Dispatcher struct {
	actions Actions
	queue   Enqueuer
	logger  *slog.Logger
	now     func() time.Time
}

func NewDispatcher(actions Actions, queue Enqueuer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{actions: actions, queue: queue, logger: logger, now: time.Now}
}

func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	var err error
	switch cmd.Action {
	case ActionForceClockIn:
		err = d.actions.ForceClockIn(ctx, cmd.DriverID, cmd.Reason)
	case ActionForceClockOut:
		err = d.actions.ForceClockOut(ctx, cmd.DriverID, cmd.Reason)
	case ActionSendMessage:
		err = d.actions.DeliverMessage(ctx, cmd.DriverID, cmd.Message)
	default:
		return fmt.Errorf("unknown command action %q", cmd.Action)
	}
	if err != nil {
		return fmt.Errorf("execute %s: %w", cmd.Action, err)
	}

	ack := map[string]any{
		"id":          cmd.ID,
		"executed":    true,
		"executed_at": d.now().UTC(),
	}
	if _, err := d.queue.Enqueue(ctx, cmd.DriverID, "ghost_commands", syncq.OpUpdate, ack); err != nil {
		return fmt.Errorf("acknowledge %s: %w", cmd.ID, err)
	}
	d.logger.Info("command executed", "command_id", cmd.ID, "driver_id", cmd.DriverID, "action", cmd.Action)
	return nil
}
