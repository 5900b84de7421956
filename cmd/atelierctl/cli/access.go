package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bhunte/atelier/internal/access"
)

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the feature/action matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCatalog(cmd.OutOrStdout())
		},
	}
}

func printCatalog(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tACTIONS")
	for _, e := range access.Catalog() {
		names := make([]string, len(e.Actions))
		for i, a := range e.Actions {
			names[i] = fmt.Sprintf("%s(%d)", a, int(a))
		}
		fmt.Fprintf(tw, "%s\t%s\n", e.Feature, strings.Join(names, " "))
	}
	return tw.Flush()
}

func newCheckCommand() *cobra.Command {
	var (
		principalPath string
		feature       string
		actions       []string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a principal fixture against a feature and actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(principalPath)
			if err != nil {
				return err
			}
			defer f.Close()
			p, err := LoadPrincipal(f)
			if err != nil {
				return err
			}
			return runCheck(cmd.OutOrStdout(), p, feature, actions)
		},
	}
	cmd.Flags().StringVarP(&principalPath, "principal", "p", "", "YAML or JSON principal fixture")
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "feature to check")
	cmd.Flags().StringSliceVarP(&actions, "action", "a", nil, "required actions, by name or code")
	_ = cmd.MarkFlagRequired("principal")
	_ = cmd.MarkFlagRequired("feature")
	return cmd
}

func runCheck(out io.Writer, p *access.Principal, rawFeature string, rawActions []string) error {
	f, err := access.ParseFeature(rawFeature)
	if err != nil {
		return err
	}
	required := make([]access.Action, 0, len(rawActions))
	for _, raw := range rawActions {
		a, err := access.ParseAction(raw)
		if err != nil {
			return err
		}
		required = append(required, a)
	}
	verdict := "denied"
	if access.CanAccess(p, f, required...) {
		verdict = "allowed"
	}
	_, err = fmt.Fprintf(out, "%s %s %s\n", p.ID, f, verdict)
	return err
}

type principalFixture struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	Email         string         `yaml:"email"`
	Role          string         `yaml:"role"`
	Category      string         `yaml:"category"`
	Impersonating bool           `yaml:"isImpersonating"`
	Access        []grantFixture `yaml:"access"`
}

type grantFixture struct {
	Feature    string   `yaml:"feature"`
	Permission []string `yaml:"permission"`
}

// LoadPrincipal decodes a principal fixture. Actions may be written by name or
// by backend code. Unlike a backend payload, a fixture with an unknown feature
// or action is rejected rather than trimmed.
func LoadPrincipal(r io.Reader) (*access.Principal, error) {
	var fx principalFixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode principal: %w", err)
	}
	if fx.ID == "" || fx.Role == "" {
		return nil, errors.New("principal fixture needs id and role")
	}
	p := &access.Principal{
		ID:            fx.ID,
		Name:          fx.Name,
		Email:         fx.Email,
		Role:          fx.Role,
		Category:      fx.Category,
		Impersonating: fx.Impersonating,
		Grants:        make([]access.Grant, 0, len(fx.Access)),
	}
	for _, g := range fx.Access {
		f, err := access.ParseFeature(g.Feature)
		if err != nil {
			return nil, err
		}
		grant := access.Grant{Feature: f, Permissions: make([]access.Action, 0, len(g.Permission))}
		for _, raw := range g.Permission {
			a, err := access.ParseAction(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f, err)
			}
			grant.Permissions = append(grant.Permissions, a)
		}
		p.Grants = append(p.Grants, grant)
	}
	p.Grants = access.NormalizeGrants(p.Grants)
	return p, nil
}
