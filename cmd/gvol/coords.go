package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gogpu/gaussvol"
)

// vdwRadii maps element symbols to Bondi van der Waals radii in nm.
var vdwRadii = map[string]float64{
	"H":  0.120,
	"C":  0.170,
	"N":  0.155,
	"O":  0.152,
	"F":  0.147,
	"P":  0.180,
	"S":  0.180,
	"CL": 0.175,
	"BR": 0.185,
	"I":  0.198,
}

// ReadCoordinates parses an xyz-style coordinate file: an optional
// atom-count header followed by a comment line, then one "symbol x y z"
// line per atom with coordinates in nm. Blank lines and '#' comments are
// skipped. Hydrogens become volume-less atoms; every other recognized
// element carries its Bondi radius and the shared surface tension.
func ReadCoordinates(fname string, gamma float64) ([]gaussvol.Atom, []gaussvol.Vec3, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var (
		atoms      []gaussvol.Atom
		pos        []gaussvol.Vec3
		headerN    = -1
		sawData    bool
		lineNumber int
	)

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNumber++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)

		// A lone integer before any atom line is the xyz count header;
		// the line after it is a free-form comment.
		if !sawData && headerN < 0 && len(fields) == 1 {
			n, err := strconv.Atoi(fields[0])
			if err != nil || n < 0 {
				return nil, nil, fmt.Errorf("%s:%d: expected atom count or 'symbol x y z', got %q",
					fname, lineNumber, line)
			}
			headerN = n
			if sc.Scan() {
				lineNumber++
			}
			continue
		}
		sawData = true

		if len(fields) != 4 {
			return nil, nil, fmt.Errorf("%s:%d: expected 'symbol x y z', got %q",
				fname, lineNumber, line)
		}
		symbol := strings.ToUpper(fields[0])
		radius, ok := vdwRadii[symbol]
		if !ok {
			return nil, nil, fmt.Errorf("%s:%d: unknown element %q", fname, lineNumber, fields[0])
		}

		var xyz [3]float64
		for k, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s:%d: bad coordinate %q: %v", fname, lineNumber, s, err)
			}
			xyz[k] = v
		}

		atom := gaussvol.Atom{Radius: radius}
		if symbol == "H" {
			atom.Hydrogen = true
		} else {
			atom.Gamma = gamma
		}
		atoms = append(atoms, atom)
		pos = append(pos, gaussvol.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}

	if len(atoms) == 0 {
		return nil, nil, fmt.Errorf("%s: no atoms", fname)
	}
	if headerN >= 0 && headerN != len(atoms) {
		return nil, nil, fmt.Errorf("%s: header declares %d atoms, found %d", fname, headerN, len(atoms))
	}
	return atoms, pos, nil
}
