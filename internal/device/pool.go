// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package device

import "github.com/mlnoga/spimfuse/internal/fault"

// A fixed list of devices, each with an exclusive occupancy token. At most one job runs
// on a device at any time. Jobs are assigned round-robin by their index
type Pool struct {
	devices []Device
	tokens  []chan bool
}

func NewPool(devices []Device) *Pool {
	p := &Pool{devices: devices, tokens: make([]chan bool, len(devices))}
	for i := range p.tokens {
		p.tokens[i] = make(chan bool, 1)
	}
	return p
}

func (p *Pool) Devices() []Device { return p.devices }

func (p *Pool) Len() int { return len(p.devices) }

// Device slot for the given job index
func (p *Pool) Assign(job int) int { return job % len(p.devices) }

// Runs f on the device of the given slot, blocking until the device is free
func (p *Pool) Run(slot int, f func(d Device) error) error {
	p.tokens[slot] <- true
	defer func() { <-p.tokens[slot] }()
	return f(p.devices[slot])
}

// Runs all jobs concurrently across the devices, one job per device at a time.
// Job i goes to device i mod n. Returns the joined errors of all failed jobs
func (p *Pool) RunAll(numJobs int, job func(i int, d Device) error) error {
	errs := make(chan error, numJobs)
	for i := 0; i < numJobs; i++ {
		go func(i int) {
			errs <- p.Run(p.Assign(i), func(d Device) error { return job(i, d) })
		}(i)
	}
	var err error
	for i := 0; i < numJobs; i++ {
		if e := <-errs; e != nil {
			err = fault.Join(err, e)
		}
	}
	return err
}
