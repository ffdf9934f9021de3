// Code generated by dependgen — DO NOT EDIT.
package main

import "github.com/srgg/testify/depend"

var SubscribeTestSuiteTestRegistry = map[string]func(any){
	"TestSubscribePrintsNotifications": func(s any) { s.(*SubscribeTestSuite).TestSubscribePrintsNotifications() },
	"TestSubscribeIndicate": func(s any) { s.(*SubscribeTestSuite).TestSubscribeIndicate() },
	"TestSubscribeNonNotifying": func(s any) { s.(*SubscribeTestSuite).TestSubscribeNonNotifying() },
}

var SubscribeTestSuiteTestOrder = []string{
	"TestSubscribePrintsNotifications",
	"TestSubscribeIndicate",
	"TestSubscribeNonNotifying",
}

var SubscribeTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for SubscribeTestSuite.
// This method allows SubscribeTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *SubscribeTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: SubscribeTestSuiteTestRegistry,
		Order:    SubscribeTestSuiteTestOrder,
		Deps:     SubscribeTestSuiteDependencies,
	}
}
