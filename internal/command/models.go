package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Remote command actions a dispatcher can execute on a driver's behalf.
const (
	ActionForceClockIn  = "FORCE_CLOCK_IN"
	ActionForceClockOut = "FORCE_CLOCK_OUT"
	ActionSendMessage   = "SEND_MESSAGE"
)

// Command is an inbound ghost command issued to a driver. Every
// executed command is acknowledged with a write-back carrying its id.
type Command struct {
	ID       string    `json:"id" validate:"required"`
	DriverID string    `json:"driver_id" validate:"required"`
	Action   string    `json:"action" validate:"required,oneof=FORCE_CLOCK_IN FORCE_CLOCK_OUT SEND_MESSAGE"`
	Message  string    `json:"message,omitempty" validate:"required_if=Action SEND_MESSAGE"`
	Reason   string    `json:"reason,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

var validate = validator.New()

// Parse decodes and validates a wire command. Malformed commands are
// rejected before they reach any handler.
func Parse(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if err := validate.Struct(cmd); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}
	return cmd, nil
}

// Channel is the Redis channel a driver's commands arrive on.
func Channel(driverID string) string {
	return "ghost:" + driverID + ":commands"
}

func driverIDFromChannel(ch string) string {
	// ghost:{driver}:commands
	const prefix = "ghost:"
	const suffix = ":commands"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
