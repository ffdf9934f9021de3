// Code generated by dependgen — DO NOT EDIT.
package main

import "github.com/srgg/testify/depend"

var CocTestSuiteTestRegistry = map[string]func(any){
	"TestCocSendsLines": func(s any) { s.(*CocTestSuite).TestCocSendsLines() },
	"TestCocUnknownPSM": func(s any) { s.(*CocTestSuite).TestCocUnknownPSM() },
	"TestCocInvalidMTU": func(s any) { s.(*CocTestSuite).TestCocInvalidMTU() },
}

var CocTestSuiteTestOrder = []string{
	"TestCocSendsLines",
	"TestCocUnknownPSM",
	"TestCocInvalidMTU",
}

var CocTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for CocTestSuite.
// This method allows CocTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *CocTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: CocTestSuiteTestRegistry,
		Order:    CocTestSuiteTestOrder,
		Deps:     CocTestSuiteDependencies,
	}
}
