package infra

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/you/club-membership/internal/domain"
)

//go:embed plans.yaml
var defaultPlansYAML []byte

var ErrUnknownPlan = errors.New("unknown plan")

// PlanCatalog maps plan ids to their team limits.
type PlanCatalog struct {
	Default string        `yaml:"default"`
	Plans   []domain.Plan `yaml:"plans"`

	byID map[string]domain.Plan
}

func DefaultPlanCatalog() *PlanCatalog {
	c, err := ParsePlanCatalog(defaultPlansYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded plans.yaml: %v", err))
	}
	return c
}

func LoadPlanCatalog(path string) (*PlanCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans: %w", err)
	}
	return ParsePlanCatalog(data)
}

func ParsePlanCatalog(data []byte) (*PlanCatalog, error) {
	var c PlanCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *PlanCatalog) Validate() error {
	if len(c.Plans) == 0 {
		return errors.New("plans: at least one plan required")
	}
	c.byID = make(map[string]domain.Plan, len(c.Plans))
	for _, p := range c.Plans {
		if p.ID == "" {
			return errors.New("plans: empty plan id")
		}
		if _, dup := c.byID[p.ID]; dup {
			return fmt.Errorf("plans: duplicate plan %q", p.ID)
		}
		if p.MaxTeams != nil && *p.MaxTeams < 0 {
			return fmt.Errorf("plans: %q has negative max_teams", p.ID)
		}
		c.byID[p.ID] = p
	}
	if c.Default == "" {
		c.Default = c.Plans[0].ID
	}
	if _, ok := c.byID[c.Default]; !ok {
		return fmt.Errorf("plans: default plan %q not defined", c.Default)
	}
	return nil
}

func (c *PlanCatalog) Get(id string) (domain.Plan, error) {
	p, ok := c.byID[id]
	if !ok {
		return domain.Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, id)
	}
	return p, nil
}

func (c *PlanCatalog) DefaultPlan() domain.Plan {
	return c.byID[c.Default]
}
