// Code generated by dependgen — DO NOT EDIT.
package main

import "github.com/srgg/testify/depend"

var WriteTestSuiteTestRegistry = map[string]func(any){
	"TestWriteText": func(s any) { s.(*WriteTestSuite).TestWriteText() },
	"TestWriteHexDescriptor": func(s any) { s.(*WriteTestSuite).TestWriteHexDescriptor() },
	"TestWriteReadOnlyRejected": func(s any) { s.(*WriteTestSuite).TestWriteReadOnlyRejected() },
	"TestWriteBadHex": func(s any) { s.(*WriteTestSuite).TestWriteBadHex() },
}

var WriteTestSuiteTestOrder = []string{
	"TestWriteText",
	"TestWriteHexDescriptor",
	"TestWriteReadOnlyRejected",
	"TestWriteBadHex",
}

var WriteTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for WriteTestSuite.
// This method allows WriteTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *WriteTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: WriteTestSuiteTestRegistry,
		Order:    WriteTestSuiteTestOrder,
		Deps:     WriteTestSuiteDependencies,
	}
}
