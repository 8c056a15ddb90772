package task

import (
	"fmt"
	"path"
)

// Phase is the half of a job a task belongs to.
type Phase uint8

const (
	// PhaseMap indicates a task that processes one input file and partitions
	// its output into one intermediate file per reduce task.
	PhaseMap Phase = iota

	// PhaseReduce indicates a task that aggregates intermediate data for a
	// specific partition.
	PhaseReduce
)

func (p Phase) String() string {
	switch p {
	case PhaseMap:
		return "map"
	case PhaseReduce:
		return "reduce"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Descriptor is an immutable description of one unit of work sent to a
// worker.
type Descriptor struct {
	// JobName is the name of the MapReduce job the task belongs to.
	JobName string

	// File is the input file of a Map task. Empty for Reduce tasks, whose
	// input is implied by JobName, Index and NumOther.
	File string

	// Phase determines if this is a Map or Reduce task.
	Phase Phase

	// Index is the task number within its phase.
	Index int

	// NumOther is the task count of the other phase. Mappers need it to know
	// how many buckets to hash keys into (R), reducers to know how many
	// intermediate files to collect (M).
	NumOther int
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%s#%d", d.JobName, d.Phase, d.Index)
}

// The file layout keeps every file of a job under its own directory so names
// of different jobs can never collide. Job names are validated to be a single
// path element.

// JobDir returns the directory holding all files of jobName.
func JobDir(jobName string) string {
	return "mrtmp." + jobName
}

// IntermediateName returns the name of the file map task mapTask writes for
// reduce task reduceTask.
func IntermediateName(jobName string, mapTask, reduceTask int) string {
	return path.Join(JobDir(jobName), fmt.Sprintf("map-%d-%d.json", mapTask, reduceTask))
}

// MergeName returns the name of the output file of reduce task reduceTask.
func MergeName(jobName string, reduceTask int) string {
	return path.Join(JobDir(jobName), fmt.Sprintf("res-%d.json", reduceTask))
}

// ResultName returns the name of the merged, key-sorted result of the job.
func ResultName(jobName string) string {
	return path.Join(JobDir(jobName), "result.txt")
}
