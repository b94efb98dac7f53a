// Package mirror passes per-alarm scheduling metadata between the scheduling
// backend and the live-status manager. The two sides may run in different OS
// processes with independent, occasionally inconsistent views of the primary
// store, so every write lands in two physical stores and reads fall back to
// the secondary when the primary misses.
package mirror

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"
)

// KV is the minimal key/value contract the mirror needs from a physical
// store. Implementations must be safe for concurrent use.
type KV interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys() []string
}

// Field names under an alarm entry. Each field lives under its own key so a
// reader can observe a partially written entry and treat missing fields as
// absent rather than erroring.
const (
	FieldStackID     = "stack_id"
	FieldStackName   = "stack_name"
	FieldStepTitle   = "step_title"
	FieldAllowSnooze = "allow_snooze"
	FieldTarget      = "target"
	FieldNominal     = "nominal"
	FieldChainOffset = "chain_offset"
)

// Entry is the metadata recorded for one scheduled occurrence.
type Entry struct {
	StackID     string
	StackName   string
	StepTitle   string
	AllowSnooze bool
	Target      time.Time
	// Nominal is the un-adjusted fire instant when it differs from Target.
	Nominal *time.Time
	// ChainOffset is the distance from the first occurrence in the stack's
	// chain, when known.
	ChainOffset *time.Duration
}

// Mirror is the two-tier store. Writes go to both tiers; reads prefer the
// primary and fall back to the secondary.
type Mirror struct {
	primary   KV
	secondary KV
	logger    *slog.Logger
}

func New(primary, secondary KV) *Mirror {
	return &Mirror{primary: primary, secondary: secondary, logger: slog.Default()}
}

func alarmKey(alarmID, field string) string { return "alarm." + alarmID + "." + field }
func stackKey(stackID string) string        { return "stack." + stackID + ".alarms" }

// Record writes the entry's fields and appends alarmID to the stack's id
// list, in both stores. Field writes are per-key and not atomic as a group.
func (m *Mirror) Record(stackID, alarmID string, e Entry) error {
	fields := map[string][]byte{
		alarmKey(alarmID, FieldStackID):     []byte(e.StackID),
		alarmKey(alarmID, FieldStackName):   []byte(e.StackName),
		alarmKey(alarmID, FieldStepTitle):   []byte(e.StepTitle),
		alarmKey(alarmID, FieldAllowSnooze): []byte(strconv.FormatBool(e.AllowSnooze)),
		alarmKey(alarmID, FieldTarget):      []byte(e.Target.Format(time.RFC3339Nano)),
	}
	if e.Nominal != nil {
		fields[alarmKey(alarmID, FieldNominal)] = []byte(e.Nominal.Format(time.RFC3339Nano))
	}
	if e.ChainOffset != nil {
		fields[alarmKey(alarmID, FieldChainOffset)] = []byte(e.ChainOffset.String())
	}

	var firstErr error
	for k, v := range fields {
		if err := m.setBoth(k, v); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	ids := m.AlarmIDs(stackID)
	if !contains(ids, alarmID) {
		ids = append(ids, alarmID)
	}
	if err := m.writeIDList(stackID, ids); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Remove drops the alarm's fields and its id-list membership from both
// stores. Removing an unknown alarm is a no-op.
func (m *Mirror) Remove(stackID, alarmID string) {
	for _, f := range []string{FieldStackID, FieldStackName, FieldStepTitle, FieldAllowSnooze, FieldTarget, FieldNominal, FieldChainOffset} {
		k := alarmKey(alarmID, f)
		_ = m.primary.Delete(k)
		_ = m.secondary.Delete(k)
	}
	ids := m.AlarmIDs(stackID)
	kept := ids[:0]
	for _, id := range ids {
		if id != alarmID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		_ = m.primary.Delete(stackKey(stackID))
		_ = m.secondary.Delete(stackKey(stackID))
		return
	}
	if err := m.writeIDList(stackID, kept); err != nil {
		m.logger.Warn("mirror id-list rewrite failed", "stack", stackID, "error", err)
	}
}

// AlarmIDs returns the alarm identifiers tracked for a stack.
func (m *Mirror) AlarmIDs(stackID string) []string {
	raw, ok := m.get(stackKey(stackID))
	if !ok {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		m.logger.Warn("mirror id-list corrupt, treating as empty", "stack", stackID, "error", err)
		return nil
	}
	return ids
}

// Field returns the raw value of one field of an alarm entry.
func (m *Mirror) Field(alarmID, field string) (string, bool) {
	raw, ok := m.get(alarmKey(alarmID, field))
	if !ok {
		return "", false
	}
	return string(raw), true
}

// Load reconstructs an Entry for alarmID. Missing fields stay at their zero
// values; ok is false only when no field at all is recorded.
func (m *Mirror) Load(alarmID string) (Entry, bool) {
	var e Entry
	var any bool
	if v, ok := m.Field(alarmID, FieldStackID); ok {
		e.StackID, any = v, true
	}
	if v, ok := m.Field(alarmID, FieldStackName); ok {
		e.StackName, any = v, true
	}
	if v, ok := m.Field(alarmID, FieldStepTitle); ok {
		e.StepTitle, any = v, true
	}
	if v, ok := m.Field(alarmID, FieldAllowSnooze); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			e.AllowSnooze = b
		}
		any = true
	}
	if v, ok := m.Field(alarmID, FieldTarget); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.Target = t
		}
		any = true
	}
	if v, ok := m.Field(alarmID, FieldNominal); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.Nominal = &t
		}
		any = true
	}
	if v, ok := m.Field(alarmID, FieldChainOffset); ok {
		if d, err := time.ParseDuration(v); err == nil {
			e.ChainOffset = &d
		}
		any = true
	}
	return e, any
}

// StackIDs lists every stack id with a tracked id list, from either tier.
func (m *Mirror) StackIDs() []string {
	seen := make(map[string]struct{})
	for _, kv := range []KV{m.primary, m.secondary} {
		for _, k := range kv.Keys() {
			if len(k) > len("stack.")+len(".alarms") &&
				k[:6] == "stack." && k[len(k)-7:] == ".alarms" {
				seen[k[6:len(k)-7]] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func (m *Mirror) writeIDList(stackID string, ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return m.setBoth(stackKey(stackID), raw)
}

func (m *Mirror) setBoth(key string, value []byte) error {
	err := m.primary.Set(key, value)
	if err2 := m.secondary.Set(key, value); err == nil {
		err = err2
	}
	return err
}

func (m *Mirror) get(key string) ([]byte, bool) {
	if v, ok := m.primary.Get(key); ok {
		return v, true
	}
	return m.secondary.Get(key)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
