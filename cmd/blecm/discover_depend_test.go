// Code generated by dependgen — DO NOT EDIT.
package main

import "github.com/srgg/testify/depend"

var DiscoverTestSuiteTestRegistry = map[string]func(any){
	"TestDiscoverPrintsDatabase": func(s any) { s.(*DiscoverTestSuite).TestDiscoverPrintsDatabase() },
	"TestDiscoverJSON": func(s any) { s.(*DiscoverTestSuite).TestDiscoverJSON() },
	"TestDiscoverUnknownPeerFails": func(s any) { s.(*DiscoverTestSuite).TestDiscoverUnknownPeerFails() },
	"TestInvalidLogLevelRejected": func(s any) { s.(*DiscoverTestSuite).TestInvalidLogLevelRejected() },
}

var DiscoverTestSuiteTestOrder = []string{
	"TestDiscoverPrintsDatabase",
	"TestDiscoverJSON",
	"TestDiscoverUnknownPeerFails",
	"TestInvalidLogLevelRejected",
}

var DiscoverTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for DiscoverTestSuite.
// This method allows DiscoverTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *DiscoverTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: DiscoverTestSuiteTestRegistry,
		Order:    DiscoverTestSuiteTestOrder,
		Deps:     DiscoverTestSuiteDependencies,
	}
}
