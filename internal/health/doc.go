// Package health samples host resources, folds them with activity staleness
// into a 0-100 score, and hands each observation to the escalation machine.
package health
