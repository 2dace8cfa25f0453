// Package config carries the pipeline's tunables: weight algorithm
// selection, solver overrides, sampling options. Loaded once at startup,
// read through Current() everywhere else.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// weight engine
	WeightAlgorithm string  `yaml:"weight_algorithm"`
	DefaultRadius   float32 `yaml:"default_radius"`
	Falloff         float32 `yaml:"falloff"`
	HeatIterations  int     `yaml:"heat_iterations"`
	HeatDamping     float32 `yaml:"heat_damping"`

	// ik
	Solver           string  `yaml:"solver"` // twobone / fabrik / ccd
	SolverIterations int     `yaml:"solver_iterations"`
	SolverTolerance  float32 `yaml:"solver_tolerance"`

	// motion sampling
	RotationOrder string `yaml:"rotation_order"` // empty = declared channel order

	ListenAddr string `yaml:"listen_addr"`
}

var current = Config{
	WeightAlgorithm: "heat",
	Solver:          "fabrik",
	ListenAddr:      ":8000",
}

func Current() *Config {
	return &current
}

func Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "Failed to read config %q", path)
	}
	if err := yaml.Unmarshal(data, &current); err != nil {
		return errors.Wrapf(err, "Failed to unmarshal config %q", path)
	}
	return nil
}

func SetWeightAlgorithm(name string) {
	current.WeightAlgorithm = name
}

func SetSolver(name string) {
	current.Solver = name
}
