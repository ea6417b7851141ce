//go:build !debug

package debug

import "sync"

func Assert(cond bool, a ...interface{})            {}
func AssertFunc(f func() bool, a ...interface{})    {}
func AssertMsg(cond bool, msg string)               {}
func AssertNoErr(err error)                         {}
func Assertf(cond bool, f string, a ...interface{}) {}
func AssertMutexLocked(m *sync.Mutex)               {}
func AssertRWMutexLocked(m *sync.RWMutex)           {}
func Infof(f string, a ...interface{})              {}
func Func(f func())                                 {}

const Enabled = false
