package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-contracts/internal/configuration"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/internal/schema"
)

// validation is the result of `contractd validate`.
type validation struct {
	ContractsFile string              `json:"contracts_file"`
	Contracts     int                 `json:"contracts"`
	Waves         [][]string          `json:"waves"`
	Sets          map[string][]string `json:"sets"`
}

func newValidateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load configuration and contracts and check dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := validateContracts(o.cfg)
			if err != nil {
				return &ExitError{Code: ExitCodeError, Err: err}
			}
			if o.format == "json" {
				return writeJSON(cmd.OutOrStdout(), v)
			}
			return writeValidation(cmd.OutOrStdout(), v)
		},
	}
}

func validateContracts(cfg *configuration.Config) (*validation, error) {
	store := schema.New()
	if err := store.LoadFile(cfg.Contracts.File); err != nil {
		return nil, err
	}

	var errs []error
	for _, id := range store.IDs() {
		c, _ := store.Get(id)
		for _, f := range c.RequiredFields {
			svc := c.ServiceFor(f)
			if _, ok := cfg.Service(svc); !ok {
				errs = append(errs, &dcerrors.ConfigurationError{
					Service: svc,
					Message: fmt.Sprintf("contract %s field %s references an undeclared service", id, f.Name),
				})
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	waves, err := store.ResolveWaves(store.IDs())
	if err != nil {
		return nil, err
	}
	v := &validation{
		ContractsFile: cfg.Contracts.File,
		Contracts:     len(store.IDs()),
		Waves:         waves,
		Sets:          make(map[string][]string),
	}
	for _, name := range store.SetNames() {
		ids, err := store.Set(name)
		if err != nil {
			return nil, err
		}
		order, err := store.ResolveOrder(ids)
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", name, err)
		}
		v.Sets[name] = order
	}
	return v, nil
}

func writeValidation(w io.Writer, v *validation) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s: %d contracts OK", v.ContractsFile, v.Contracts)))
	b.WriteString("\n")
	for i, wave := range v.Waves {
		fmt.Fprintf(&b, "  wave %d: %s\n", i, strings.Join(wave, ", "))
	}
	for _, name := range slices.Sorted(maps.Keys(v.Sets)) {
		fmt.Fprintf(&b, "  set %s: %s\n", name, strings.Join(v.Sets[name], " -> "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
