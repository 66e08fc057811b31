package main

import (
	"fmt"

	"gopkg.in/gcfg.v1"
)

// ExampleConfigFile documents every [System] key. Print it with -example.
const ExampleConfigFile = `[System]

#######################
# Required Parameters #
#######################

# Path to the coordinate file. The format is xyz-style: an optional
# atom-count header and comment line, then one "symbol x y z" line per
# atom with coordinates in nm. Blank lines and lines starting with '#'
# are skipped. Hydrogens join the system as volume-less atoms.
Coordinates = path/to/molecule.xyz

# Surface tension in kJ/(mol*nm^2), applied to every heavy atom.
Gamma = 0.1

#######################
# Optional Parameters #
#######################

# Backend to run on. Leave empty to auto-select: a registered GPU
# backend when one is available, the built-in CPU backend otherwise.
# Backend = cpu

# Worker goroutines for the CPU backend. Zero selects one per CPU.
# Workers = 0

# Cutoff distance in nm. Zero considers every atom pair.
# Cutoff = 1.0

# Orthorhombic box edge lengths in nm. Setting all three enables
# periodic minimum-image displacements; a positive Cutoff is then
# required and must not exceed half the smallest edge.
# BoxX = 4.0
# BoxY = 4.0
# BoxZ = 4.0`

type SystemConfig struct {
	// Required
	Coordinates string
	Gamma       float64

	// Optional
	Backend          string
	Workers          int
	Cutoff           float64
	BoxX, BoxY, BoxZ float64
}

type ConfigWrapper struct {
	System SystemConfig
}

func (con *SystemConfig) periodic() bool {
	return con.BoxX != 0 || con.BoxY != 0 || con.BoxZ != 0
}

// ReadConfig parses and validates the [System] block of a gcfg file.
func ReadConfig(fname string) (*SystemConfig, error) {
	wrap := &ConfigWrapper{}
	if err := gcfg.ReadFileInto(wrap, fname); err != nil {
		return nil, err
	}
	con := &wrap.System

	if con.Coordinates == "" {
		return nil, fmt.Errorf("missing 'Coordinates' value in [System]")
	}
	if con.Gamma < 0 {
		return nil, fmt.Errorf("'Gamma' must not be negative, got %g", con.Gamma)
	}
	if con.Cutoff < 0 {
		return nil, fmt.Errorf("'Cutoff' must not be negative, got %g", con.Cutoff)
	}
	if con.periodic() {
		if con.BoxX <= 0 || con.BoxY <= 0 || con.BoxZ <= 0 {
			return nil, fmt.Errorf("periodic box needs all of BoxX, BoxY, BoxZ positive, got (%g, %g, %g)",
				con.BoxX, con.BoxY, con.BoxZ)
		}
		if con.Cutoff == 0 {
			return nil, fmt.Errorf("periodic box requires a positive 'Cutoff'")
		}
	}
	return con, nil
}
