// Code generated by dependgen — DO NOT EDIT.
package main

import "github.com/srgg/testify/depend"

var ServeTestSuiteTestRegistry = map[string]func(any){
	"TestServeLifecycleAndSubscription": func(s any) { s.(*ServeTestSuite).TestServeLifecycleAndSubscription() },
	"TestServeHeartbeatNotifies": func(s any) { s.(*ServeTestSuite).TestServeHeartbeatNotifies() },
	"TestServeCocEcho": func(s any) { s.(*ServeTestSuite).TestServeCocEcho() },
	"TestServeConfiguredServices": func(s any) { s.(*ServeTestSuite).TestServeConfiguredServices() },
	"TestServeBadConfig": func(s any) { s.(*ServeTestSuite).TestServeBadConfig() },
}

var ServeTestSuiteTestOrder = []string{
	"TestServeLifecycleAndSubscription",
	"TestServeHeartbeatNotifies",
	"TestServeCocEcho",
	"TestServeConfiguredServices",
	"TestServeBadConfig",
}

var ServeTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for ServeTestSuite.
// This method allows ServeTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *ServeTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: ServeTestSuiteTestRegistry,
		Order:    ServeTestSuiteTestOrder,
		Deps:     ServeTestSuiteDependencies,
	}
}
