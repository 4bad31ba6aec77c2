package device

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// Fixture is a YAML description of device provider contents.
type Fixture struct {
	Calls    []FixtureCall `yaml:"calls"`
	Contacts []Contact     `yaml:"contacts"`
	Blocked  []string      `yaml:"blocked"`
}

// FixtureCall is one call entry of a Fixture.
type FixtureCall struct {
	ID           int64     `yaml:"id"`
	Number       string    `yaml:"number"`
	Date         time.Time `yaml:"date"`
	DurationSecs int64     `yaml:"duration_secs"`
	Type         string    `yaml:"type"`
	IsRead       bool      `yaml:"is_read"`
	New          bool      `yaml:"new"`
}

var callTypesByName = map[string]model.CallType{
	"incoming":  model.CallTypeIncoming,
	"outgoing":  model.CallTypeOutgoing,
	"missed":    model.CallTypeMissed,
	"voicemail": model.CallTypeVoicemail,
	"rejected":  model.CallTypeRejected,
	"blocked":   model.CallTypeBlocked,
}

// ParseCallType maps a call type name to its model value.
func ParseCallType(name string) (model.CallType, error) {
	if name == "" {
		return model.CallTypeIncoming, nil
	}
	t, ok := callTypesByName[name]
	if !ok {
		return 0, eris.Errorf("device: unknown call type %q", name)
	}
	return t, nil
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "device: read fixture %s", path)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "device: parse fixture %s", path)
	}
	return &f, nil
}

// Seed writes every entry of f to the device providers.
func (d *DB) Seed(ctx context.Context, f *Fixture) error {
	for _, c := range f.Contacts {
		if _, err := d.UpsertContact(ctx, c); err != nil {
			return err
		}
	}
	for _, raw := range f.Blocked {
		if err := d.BlockNumber(ctx, raw); err != nil {
			return err
		}
	}
	for _, fc := range f.Calls {
		callType, err := ParseCallType(fc.Type)
		if err != nil {
			return err
		}
		if _, err := d.InsertCall(ctx, model.SystemCall{
			ID:       fc.ID,
			Number:   fc.Number,
			Date:     fc.Date,
			Duration: time.Duration(fc.DurationSecs) * time.Second,
			Type:     callType,
			IsRead:   fc.IsRead,
			New:      fc.New,
		}); err != nil {
			return err
		}
	}
	return nil
}
