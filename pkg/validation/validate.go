package validation

import (
	"errors"
	"fmt"
	"strings"

	"threadsync/pkg/models"
)

// Field limits applied at the sync boundary. Content is deliberately
// generous (assistant turns can be long); metadata fields are tight.
const (
	MaxTitleLen   = 512
	MaxModelLen   = 128
	MaxContentLen = 1 << 20
	MaxIDLen      = 128
)

var threadStatuses = map[string]struct{}{
	models.ThreadActive:  {},
	models.ThreadDeleted: {},
}

var messageStatuses = map[string]struct{}{
	models.MsgDone:      {},
	models.MsgStreaming: {},
	models.MsgCancelled: {},
	models.MsgDeleted:   {},
	models.MsgError:     {},
}

var messageRoles = map[string]struct{}{
	models.RoleUser:      {},
	models.RoleAssistant: {},
	models.RoleSystem:    {},
}

// ValidateThread checks a thread record arriving at the sync boundary.
// Unknown statuses are rejected rather than coerced so that a newer client
// cannot silently corrupt older replicas.
func ValidateThread(t models.Thread) error {
	var errs []string
	if strings.TrimSpace(t.LocalID) == "" {
		errs = append(errs, "local_id is required")
	}
	if len(t.LocalID) > MaxIDLen {
		errs = append(errs, fmt.Sprintf("local_id exceeds %d bytes", MaxIDLen))
	}
	if _, ok := threadStatuses[t.Status]; !ok {
		errs = append(errs, fmt.Sprintf("invalid thread status: %q", t.Status))
	}
	if len(t.Title) > MaxTitleLen {
		errs = append(errs, fmt.Sprintf("title exceeds %d bytes", MaxTitleLen))
	}
	if len(t.Model) > MaxModelLen {
		errs = append(errs, fmt.Sprintf("model exceeds %d bytes", MaxModelLen))
	}
	if t.UpdatedAt.IsZero() {
		errs = append(errs, "updated_at is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ValidateMessage checks a message record arriving at the sync boundary.
func ValidateMessage(m models.Message) error {
	var errs []string
	if strings.TrimSpace(m.LocalID) == "" {
		errs = append(errs, "local_id is required")
	}
	if len(m.LocalID) > MaxIDLen {
		errs = append(errs, fmt.Sprintf("local_id exceeds %d bytes", MaxIDLen))
	}
	if strings.TrimSpace(m.ThreadLocalID) == "" {
		errs = append(errs, "thread_local_id is required")
	}
	if _, ok := messageRoles[m.Role]; !ok {
		errs = append(errs, fmt.Sprintf("invalid message role: %q", m.Role))
	}
	if _, ok := messageStatuses[m.Status]; !ok {
		errs = append(errs, fmt.Sprintf("invalid message status: %q", m.Status))
	}
	if len(m.Content) > MaxContentLen {
		errs = append(errs, fmt.Sprintf("content exceeds %d bytes", MaxContentLen))
	}
	if m.UpdatedAt.IsZero() {
		errs = append(errs, "updated_at is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ValidateSyncRequest validates every record in a batch. The first failure
// names the offending record; nothing in the batch is applied when any
// record fails.
func ValidateSyncRequest(req models.SyncRequest) error {
	for i, t := range req.Threads {
		if err := ValidateThread(t); err != nil {
			return fmt.Errorf("thread[%d] %s: %w", i, t.LocalID, err)
		}
	}
	for i, m := range req.Messages {
		if err := ValidateMessage(m); err != nil {
			return fmt.Errorf("message[%d] %s: %w", i, m.LocalID, err)
		}
	}
	return nil
}
