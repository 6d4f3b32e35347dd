package scenario

import (
	"fmt"
	"os"

	"cityflow/models"

	"gopkg.in/yaml.v3"
)

// Profile holds the constants of one impact variant. Not every field applies
// to every variant.
type Profile struct {
	// CapacityReduction is the share of capacity lost: per closed lane for
	// lane closures, per unit of severity for weather, flat otherwise.
	CapacityReduction float64 `yaml:"capacity_reduction"`
	// Diversion is the share of traffic pushed to neighbors, decayed by
	// hops^1.5.
	Diversion   float64 `yaml:"diversion"`
	Scale       float64 `yaml:"scale"`
	Multiplier  float64 `yaml:"multiplier"`
	DirectCap   float64 `yaml:"direct_cap"`
	IndirectCap float64 `yaml:"indirect_cap"`
	MaxHops     int     `yaml:"max_hops"`
	Schedulable bool    `yaml:"schedulable"`

	// event only
	MaxIncrease     float64 `yaml:"max_increase"`
	AttendanceScale float64 `yaml:"attendance_scale"`
}

// Profiles maps each scenario type to its constants.
type Profiles map[models.ScenarioType]Profile

func DefaultProfiles() Profiles {
	return Profiles{
		models.ScenarioLaneClosure: {
			CapacityReduction: 0.3,
			Diversion:         0.4,
			Scale:             20,
			Multiplier:        1,
			DirectCap:         100,
			IndirectCap:       50,
			MaxHops:           5,
			Schedulable:       true,
		},
		models.ScenarioInfrastructureFailure: {
			CapacityReduction: 0.8,
			Diversion:         0.7,
			Scale:             60,
			Multiplier:        1.5,
			DirectCap:         100,
			IndirectCap:       80,
			MaxHops:           7,
			Schedulable:       true,
		},
		models.ScenarioIncident: {
			CapacityReduction: 0.5,
			Diversion:         0.5,
			Scale:             20,
			Multiplier:        0.5,
			DirectCap:         50,
			IndirectCap:       50,
			MaxHops:           4,
		},
		models.ScenarioEvent: {
			MaxIncrease:     0.5,
			AttendanceScale: 7000,
			DirectCap:       80,
			IndirectCap:     80,
			MaxHops:         8,
			Schedulable:     true,
		},
		models.ScenarioWeather: {
			CapacityReduction: 0.2,
			DirectCap:         60,
			IndirectCap:       60,
			MaxHops:           10,
		},
	}
}

// LoadProfiles reads overrides from a YAML file keyed by scenario type.
// Types or fields absent from the file keep their defaults.
//
//	lane_closure:
//	  capacity_reduction: 0.25
//	  max_hops: 6
func LoadProfiles(path string) (Profiles, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read impact profiles: %w", err)
	}

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse impact profiles %s: %w", path, err)
	}
	for name, node := range raw {
		typ := models.ScenarioType(name)
		p, ok := profiles[typ]
		if !ok {
			return nil, fmt.Errorf("impact profiles %s: unknown scenario type %q", path, name)
		}
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("impact profiles %s: %s: %w", path, name, err)
		}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("impact profiles %s: %s: %w", path, name, err)
		}
		profiles[typ] = p
	}
	return profiles, nil
}

func (p Profile) validate() error {
	switch {
	case p.MaxHops < 0 || p.MaxHops > 20:
		return fmt.Errorf("max_hops %d out of range [0,20]", p.MaxHops)
	case p.DirectCap < 0 || p.DirectCap > 100:
		return fmt.Errorf("direct_cap %v out of range [0,100]", p.DirectCap)
	case p.IndirectCap < 0 || p.IndirectCap > 100:
		return fmt.Errorf("indirect_cap %v out of range [0,100]", p.IndirectCap)
	case p.CapacityReduction < 0 || p.CapacityReduction > 1:
		return fmt.Errorf("capacity_reduction %v out of range [0,1]", p.CapacityReduction)
	}
	return nil
}
