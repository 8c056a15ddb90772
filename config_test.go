package mapreduce

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"storj.io/common/testcontext"

	"github.com/prxssh/mapreduce/api"
)

func noopMap(string, string) []api.KeyValue { return nil }

func noopReduce(string, []string) string { return "" }

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	require.Equal(t, RoleSequential, cfg.Role)
	require.Equal(t, 1, cfg.ReduceTasks)
	require.Equal(t, defaultTaskTimeout, cfg.TaskTimeout)
}

func TestConfigValidate(t *testing.T) {
	valid := []Option{WithMapper(noopMap), WithReducer(noopReduce)}

	require.NoError(t, NewConfig(valid...).validate())
	require.NoError(t, NewConfig(WithRole(RoleMaster)).validate(), "master needs no user functions")

	for name, opts := range map[string][]Option{
		"no mapper":      {WithReducer(noopReduce)},
		"no reducer":     {WithMapper(noopMap)},
		"bad role":       append(valid, WithRole("boss")),
		"zero reducers":  append(valid, WithReduceTasks(0)),
		"no job name":    append(valid, WithJobName("")),
		"no master addr": append(valid, WithRole(RoleWorker), WithMasterAddr("")),
		"negative max":   append(valid, WithMaxTasks(-1)),
		"bad gossip":     append(valid, WithDiscoveryAddr("nohost")),
	} {
		err := NewConfig(opts...).validate()
		require.Error(t, err, name)
		require.True(t, Error.Has(err), name)
	}

	require.NoError(t, NewConfig(append(valid, WithRole(RoleWorker), WithMasterAddr(""), WithDiscoveryJoin("127.0.0.1:7946"))...).validate())
}

func TestInputFilesExpandsGlob(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	for _, name := range []string{"b.txt", "a.txt", "c.log"} {
		require.NoError(t, os.WriteFile(ctx.File("in", name), []byte("x"), 0o644))
	}

	cfg := NewConfig(WithInputFiles("first.txt"), WithInputGlob(filepath.Join(ctx.Dir("in"), "*.txt")))
	files, err := cfg.inputFiles()
	require.NoError(t, err)
	require.Equal(t, []string{"first.txt", ctx.File("in", "a.txt"), ctx.File("in", "b.txt")}, files)

	_, err = NewConfig().inputFiles()
	require.Error(t, err)
}

func TestRunSequential(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	in := ctx.File("in.txt")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))

	out := ctx.Dir("out")
	cfg := NewConfig(
		WithMapper(func(_, contents string) []api.KeyValue {
			return []api.KeyValue{{Key: contents, Value: "1"}}
		}),
		WithReducer(func(_ string, values []string) string { return values[0] }),
		WithJobName("tiny"),
		WithInputFiles(in),
		WithOutputDir(out),
	)
	require.NoError(t, Run(ctx, cfg))

	data, err := os.ReadFile(filepath.Join(out, "mrtmp.tiny", "result.txt"))
	require.NoError(t, err)
	require.Equal(t, "x: 1\n", string(data))
}
