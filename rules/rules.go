//go:build ruleguard

// Package gorules defines custom linter rules for the recorder code base.
// Run them with golangci-lint's gocritic ruleguard checker.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// CondWaitInLoop flags sync.Cond.Wait guarded by an if. The slowtask queue
// and its callers must re-check their predicate after every wakeup.
func CondWaitInLoop(m dsl.Matcher) {
	m.Match(`if $cond { $*_; $c.Wait(); $*_ }`).
		Where(m["c"].Type.Is("*sync.Cond")).
		Report("call $c.Wait() in a for loop that re-checks $cond")
}

// WaitGroupGo suggests wg.Go over the manual Add/Done pattern (Go 1.25+).
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done pattern").
		Suggest("$wg.Go(func() { $body })")
}

// LoggerTypedFields prefers the typed field constructors of the logger
// package over logger.Any.
func LoggerTypedFields(m dsl.Matcher) {
	m.Import("github.com/ShoYamanishi/vurecorder/internal/logger")

	m.Match(`logger.Any($k, $v)`).
		Where(m["v"].Type.Is("string")).
		Report("use logger.String($k, $v)").
		Suggest("logger.String($k, $v)")
	m.Match(`logger.Any($k, $v)`).
		Where(m["v"].Type.Is("int")).
		Report("use logger.Int($k, $v)").
		Suggest("logger.Int($k, $v)")
	m.Match(`logger.Any($k, $v)`).
		Where(m["v"].Type.Is("time.Duration")).
		Report("use logger.Duration($k, $v)").
		Suggest("logger.Duration($k, $v)")
	m.Match(`logger.Any("error", $err)`).
		Where(m["err"].Type.Implements("error")).
		Report("use logger.Error($err)").
		Suggest("logger.Error($err)")
}

// PlainErrorsNew flags errors built with fmt.Errorf or the standard errors
// package where the categorised builder should be used. Sentinels declared
// with errors.NewStd are fine.
func PlainErrorsNew(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`return errors.New($msg)`).
		Where(m.File().Imports("errors") && !m.File().PkgPath.Matches(`/internal/errors$`)).
		Report("build errors with internal/errors (Component, Category) instead of the standard errors package")
}

// TestifyErrorAssertions prefers the dedicated testify error helpers.
func TestifyErrorAssertions(m dsl.Matcher) {
	m.Match(`assert.Nil($t, $err)`).
		Where(m["err"].Type.Is("error")).
		Report("use assert.NoError($t, $err)").
		Suggest("assert.NoError($t, $err)")
	m.Match(`require.Nil($t, $err)`).
		Where(m["err"].Type.Is("error")).
		Report("use require.NoError($t, $err)").
		Suggest("require.NoError($t, $err)")
	m.Match(`assert.True($t, errors.Is($err, $target))`).
		Report("use assert.ErrorIs($t, $err, $target)").
		Suggest("assert.ErrorIs($t, $err, $target)")
}

// DeferredTimeSince catches defer with an eagerly evaluated time.Since.
func DeferredTimeSince(m dsl.Matcher) {
	m.Match(`defer $f(time.Since($t))`, `defer $f($*_, time.Since($t), $*_)`).
		Report("time.Since($t) is evaluated at the defer statement, not at return; wrap it in a closure")
}
