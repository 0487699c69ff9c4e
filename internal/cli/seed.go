package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
)

// SeedFile is the YAML document loaded by the seed command.
type SeedFile struct {
	Troupes []SeedTroupe `yaml:"troupes" validate:"required,min=1,dive"`
}

// SeedTroupe is one troupe with its initial events, members and limits.
// Limits default to quota.DefaultLimits when omitted.
type SeedTroupe struct {
	model.Troupe `yaml:",inline"`

	Limits  quota.Limits   `yaml:"limits" validate:"omitempty,dive,gte=0"`
	Events  []model.Event  `yaml:"events"`
	Members []model.Member `yaml:"members"`
}

var seedValidate = newSeedValidator()

func newSeedValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateSeedTroupe, SeedTroupe{})
	return v
}

// validateSeedTroupe checks troupe invariants and that every event and
// member has an id.
func validateSeedTroupe(sl validator.StructLevel) {
	st := sl.Current().Interface().(SeedTroupe)
	tr := st.Troupe
	tr.ApplyDefaults()
	if err := tr.Validate(); err != nil {
		sl.ReportError(st.ID, "Troupe", "Troupe", "troupe", err.Error())
	}
	for i, ev := range st.Events {
		if ev.ID == "" {
			sl.ReportError(ev.ID, fmt.Sprintf("Events[%d].ID", i), "ID", "required", "")
		}
	}
	for i, m := range st.Members {
		if m.ID == "" {
			sl.ReportError(m.ID, fmt.Sprintf("Members[%d].ID", i), "ID", "required", "")
		}
	}
}

// ParseSeed decodes and validates a seed document.
func ParseSeed(raw []byte) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := seedValidate.Struct(&f); err != nil {
		return nil, fmt.Errorf("validate seed: %w", err)
	}
	return &f, nil
}

// Apply writes every troupe, its events, members and ledger limits.
// Re-seeding replaces documents with the same ids.
func (f *SeedFile) Apply(ctx context.Context, s *store.Store, ledger *quota.Ledger) error {
	for i := range f.Troupes {
		st := &f.Troupes[i]
		tr := st.Troupe
		tr.ApplyDefaults()
		if err := s.CreateTroupe(ctx, &tr); err != nil {
			return err
		}
		for _, ev := range st.Events {
			ev.TroupeID = tr.ID
			if err := s.UpsertEvent(ctx, ev); err != nil {
				return fmt.Errorf("seed event %s: %w", ev.ID, err)
			}
		}
		for _, m := range st.Members {
			m.TroupeID = tr.ID
			if err := s.UpsertMember(ctx, m); err != nil {
				return fmt.Errorf("seed member %s: %w", m.ID, err)
			}
		}
		limits := st.Limits
		if limits == nil {
			limits = quota.DefaultLimits()
		}
		if err := ledger.Init(ctx, tr.ID, limits); err != nil {
			return fmt.Errorf("seed limits %s: %w", tr.ID, err)
		}
	}
	return nil
}

// seedSummary is the seed command's output.
type seedSummary struct {
	Troupes []string `json:"troupes"`
	Events  int      `json:"events"`
	Members int      `json:"members"`
}

func (s seedSummary) Text() string {
	return fmt.Sprintf("Seeded %d troupe(s): %d event(s), %d member(s)\n", len(s.Troupes), s.Events, s.Members)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load troupes, events, members and limits from YAML",
		Long: `Load troupes, events, members and quota limits from a YAML seed file.

Example:
  stringplay seed ./troupes.yaml
  stringplay seed --config ./stringplay.yaml ./troupes.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], cmd)
		},
	}
}

func runSeed(opts *RootOptions, path string, cmd *cobra.Command) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read seed file", err)
	}
	seed, err := ParseSeed(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid seed file", err)
	}

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := seed.Apply(cmd.Context(), a.store, a.ledger); err != nil {
		return WrapExitError(ExitFailure, "seed failed", err)
	}

	summary := seedSummary{Troupes: []string{}}
	for _, st := range seed.Troupes {
		summary.Troupes = append(summary.Troupes, st.ID)
		summary.Events += len(st.Events)
		summary.Members += len(st.Members)
	}
	a.log.Info().Strs("troupes", summary.Troupes).Msg("seed applied")
	return formatter(opts, cmd).Success(summary)
}
