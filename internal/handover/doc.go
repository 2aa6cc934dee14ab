// Package handover decides when a connected terminal should move to a
// neighbour cell.
//
// A3Decider implements the event A3 entering condition of TS 36.331
// Section 5.5.4.4 (neighbour becomes offset better than serving) with
// hysteresis and time-to-trigger. A Dampener suppresses repeated decisions
// for the same subscriber so that a terminal at a cell edge does not
// ping-pong between two base stations.
//
// A single decider may serve every cell of the process: its state is keyed
// by (cell, subscriber) and guarded by its own mutex.
package handover
