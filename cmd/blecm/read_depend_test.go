// Code generated by dependgen — DO NOT EDIT.
package main

import "github.com/srgg/testify/depend"

var ReadTestSuiteTestRegistry = map[string]func(any){
	"TestReadText": func(s any) { s.(*ReadTestSuite).TestReadText() },
	"TestReadHex": func(s any) { s.(*ReadTestSuite).TestReadHex() },
	"TestReadDescriptor": func(s any) { s.(*ReadTestSuite).TestReadDescriptor() },
	"TestReadByHandle": func(s any) { s.(*ReadTestSuite).TestReadByHandle() },
	"TestReadWatchCount": func(s any) { s.(*ReadTestSuite).TestReadWatchCount() },
	"TestReadUnknownCharacteristic": func(s any) { s.(*ReadTestSuite).TestReadUnknownCharacteristic() },
	"TestReadUnknownDescriptor": func(s any) { s.(*ReadTestSuite).TestReadUnknownDescriptor() },
	"TestReadRejectsBadHandle": func(s any) { s.(*ReadTestSuite).TestReadRejectsBadHandle() },
}

var ReadTestSuiteTestOrder = []string{
	"TestReadText",
	"TestReadHex",
	"TestReadDescriptor",
	"TestReadByHandle",
	"TestReadWatchCount",
	"TestReadUnknownCharacteristic",
	"TestReadUnknownDescriptor",
	"TestReadRejectsBadHandle",
}

var ReadTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for ReadTestSuite.
// This method allows ReadTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *ReadTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: ReadTestSuiteTestRegistry,
		Order:    ReadTestSuiteTestOrder,
		Deps:     ReadTestSuiteDependencies,
	}
}
