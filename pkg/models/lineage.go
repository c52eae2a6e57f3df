package models

import (
	"strconv"
	"strings"
)

// Task IDs carry a "~N" generation suffix once a batch split reissues
// them. The suffix keeps reissued IDs unique while the lineage root stays
// recoverable for report bookkeeping.

// LineageRoot strips the generation suffix from a task ID, returning the
// original task's ID.
func LineageRoot(id string) string {
	i := strings.LastIndex(id, "~")
	if i < 0 {
		return id
	}
	if _, err := strconv.Atoi(id[i+1:]); err != nil {
		return id
	}
	return id[:i]
}

// NextGeneration returns the ID for the next reissue of a task: "t" becomes
// "t~2", "t~2" becomes "t~3".
func NextGeneration(id string) string {
	i := strings.LastIndex(id, "~")
	if i >= 0 {
		if gen, err := strconv.Atoi(id[i+1:]); err == nil {
			return id[:i+1] + strconv.Itoa(gen+1)
		}
	}
	return id + "~2"
}
