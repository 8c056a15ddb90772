package master

import (
	"bufio"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/zeebo/errs"

	"github.com/prxssh/mapreduce/api"
	"github.com/prxssh/mapreduce/internal/codec"
	"github.com/prxssh/mapreduce/internal/task"
)

func outputPath(dir, jobName string, r int) string {
	return filepath.Join(dir, task.MergeName(jobName, r))
}

// merge combines the results of the reduce tasks into a single key-sorted
// text file of "key: value" lines and returns its path.
func merge(fs api.Storer, dir string, job Job) (path string, err error) {
	kvs := make(map[string]string)
	for r := 0; r < job.NReduce; r++ {
		p := outputPath(dir, job.Name, r)
		rc, err := fs.OpenRead(p)
		if err != nil {
			return "", Error.New("merge: open %s: %v", p, err)
		}
		pairs, err := codec.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", Error.New("merge: read %s: %v", p, err)
		}
		for _, kv := range pairs {
			kvs[kv.Key] = kv.Value
		}
	}

	keys := make([]string, 0, len(kvs))
	for k := range kvs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	path = filepath.Join(dir, task.ResultName(job.Name))
	wc, err := fs.OpenWrite(path)
	if err != nil {
		return "", Error.New("merge: create %s: %v", path, err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(wc.Close())) }()

	w := bufio.NewWriter(wc)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, kvs[k])
	}
	if err := w.Flush(); err != nil {
		return "", Error.Wrap(err)
	}
	return path, nil
}

// CleanupFiles removes all files produced by running job under dir.
func CleanupFiles(fs api.Storer, dir string, job Job) error {
	var group errs.Group
	for m := range job.Files {
		for r := 0; r < job.NReduce; r++ {
			group.Add(fs.Remove(filepath.Join(dir, task.IntermediateName(job.Name, m, r))))
		}
	}
	for r := 0; r < job.NReduce; r++ {
		group.Add(fs.Remove(outputPath(dir, job.Name, r)))
	}
	group.Add(fs.Remove(filepath.Join(dir, task.ResultName(job.Name))))
	group.Add(fs.Remove(filepath.Join(dir, task.JobDir(job.Name))))
	return group.Err()
}
