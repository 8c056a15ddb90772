// Package reducer runs a single Reduce task.
package reducer

import (
	"path/filepath"
	"sort"

	"github.com/zeebo/errs"

	"github.com/prxssh/mapreduce/api"
	"github.com/prxssh/mapreduce/internal/codec"
	"github.com/prxssh/mapreduce/internal/task"
)

// Error is the error class for failed reduce attempts.
var Error = errs.Class("reducer")

// DoReduce manages one reduce task: it reads the nMap intermediate files
// addressed to reduceTask, groups values by key, calls reduceF once per key
// in sorted key order and writes the results to task.MergeName under dir.
//
// Values of a key are passed in file order (map task 0 first). The output is
// sorted by key and therefore deterministic.
func DoReduce(
	fs api.Storer,
	dir string,
	jobName string,
	reduceTask int,
	nMap int,
	reduceF api.ReduceFunc,
) (err error) {
	groups := make(map[string][]string)
	for m := 0; m < nMap; m++ {
		name := filepath.Join(dir, task.IntermediateName(jobName, m, reduceTask))
		kvs, err := readFile(fs, name)
		if err != nil {
			return Error.New("read %s: %v", name, err)
		}
		for _, kv := range kvs {
			groups[kv.Key] = append(groups[kv.Key], kv.Value)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]api.KeyValue, 0, len(keys))
	for _, k := range keys {
		v, err := callReduce(reduceF, k, groups[k])
		if err != nil {
			return err
		}
		out = append(out, api.KeyValue{Key: k, Value: v})
	}

	name := filepath.Join(dir, task.MergeName(jobName, reduceTask))
	wc, err := fs.OpenWrite(name)
	if err != nil {
		return Error.New("write %s: %v", name, err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(wc.Close())) }()

	return Error.Wrap(codec.WriteAll(wc, out))
}

func readFile(fs api.Storer, path string) ([]api.KeyValue, error) {
	rc, err := fs.OpenRead(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return codec.ReadAll(rc)
}

func callReduce(reduceF api.ReduceFunc, key string, values []string) (v string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Error.New("reduce function panicked on key %q: %v", key, r)
		}
	}()

	return reduceF(key, values), nil
}
