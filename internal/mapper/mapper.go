// Package mapper runs a single Map task.
package mapper

import (
	"io"
	"path/filepath"

	"github.com/zeebo/errs"

	"github.com/prxssh/mapreduce/api"
	"github.com/prxssh/mapreduce/internal/codec"
	"github.com/prxssh/mapreduce/internal/task"
	"github.com/prxssh/mapreduce/pkg/hash"
)

// Error is the error class for failed map attempts.
var Error = errs.Class("mapper")

// DoMap manages one map task: it reads inFile, calls mapF on its contents
// and partitions the output into nReduce intermediate files under dir, one
// per reduce task, named by task.IntermediateName.
//
// A key goes to bucket hash.Partition(key, nReduce). Within a bucket pairs
// keep the order mapF produced them, so the same input always yields
// byte-identical files.
func DoMap(
	fs api.Storer,
	dir string,
	jobName string,
	mapTask int,
	inFile string,
	nReduce int,
	mapF api.MapFunc,
) error {
	if nReduce <= 0 {
		return Error.New("nReduce must be positive, got %d", nReduce)
	}

	contents, err := readFile(fs, inFile)
	if err != nil {
		return Error.New("read %s: %v", inFile, err)
	}

	kvs, err := callMap(mapF, inFile, contents)
	if err != nil {
		return err
	}

	buckets := make([][]api.KeyValue, nReduce)
	for _, kv := range kvs {
		r := hash.Partition(kv.Key, nReduce)
		buckets[r] = append(buckets[r], kv)
	}

	for r, bucket := range buckets {
		name := filepath.Join(dir, task.IntermediateName(jobName, mapTask, r))
		if err := writeFile(fs, name, bucket); err != nil {
			return Error.New("write %s: %v", name, err)
		}
	}

	return nil
}

func readFile(fs api.Storer, path string) (string, error) {
	rc, err := fs.OpenRead(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeFile(fs api.Storer, path string, kvs []api.KeyValue) (err error) {
	wc, err := fs.OpenWrite(path)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, wc.Close()) }()

	return codec.WriteAll(wc, kvs)
}

func callMap(mapF api.MapFunc, file, contents string) (kvs []api.KeyValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Error.New("map function panicked on %s: %v", file, r)
		}
	}()

	return mapF(file, contents), nil
}
