// Code generated by dependgen — DO NOT EDIT.
package session_test

import "github.com/srgg/testify/depend"

var SessionTestSuiteTestRegistry = map[string]func(any){
	"TestEndToEndLocalWriteThenRead": func(s any) { s.(*SessionTestSuite).TestEndToEndLocalWriteThenRead() },
	"TestLocalReadMissPopulatesCache": func(s any) { s.(*SessionTestSuite).TestLocalReadMissPopulatesCache() },
	"TestLifecycle": func(s any) { s.(*SessionTestSuite).TestLifecycle() },
	"TestInitValidation": func(s any) { s.(*SessionTestSuite).TestInitValidation() },
	"TestPeerWriteDuringLocalReadMiss": func(s any) { s.(*SessionTestSuite).TestPeerWriteDuringLocalReadMiss() },
	"TestConcurrentLocalAndPeerWrites": func(s any) { s.(*SessionTestSuite).TestConcurrentLocalAndPeerWrites() },
	"TestPeripheralServesPeer": func(s any) { s.(*SessionTestSuite).TestPeripheralServesPeer() },
	"TestNotifyRequiresSubscription": func(s any) { s.(*SessionTestSuite).TestNotifyRequiresSubscription() },
	"TestCentralDiscovery": func(s any) { s.(*SessionTestSuite).TestCentralDiscovery() },
	"TestCentralReadWriteSubscribe": func(s any) { s.(*SessionTestSuite).TestCentralReadWriteSubscribe() },
	"TestConnectFailures": func(s any) { s.(*SessionTestSuite).TestConnectFailures() },
	"TestConnectNotSupportedForPeripheral": func(s any) { s.(*SessionTestSuite).TestConnectNotSupportedForPeripheral() },
	"TestReadTimeoutLeavesSessionUsable": func(s any) { s.(*SessionTestSuite).TestReadTimeoutLeavesSessionUsable() },
	"TestPeriodicEventsRepublished": func(s any) { s.(*SessionTestSuite).TestPeriodicEventsRepublished() },
	"TestL2CAPReadyAfterStart": func(s any) { s.(*SessionTestSuite).TestL2CAPReadyAfterStart() },
}

var SessionTestSuiteTestOrder = []string{
	"TestEndToEndLocalWriteThenRead",
	"TestLocalReadMissPopulatesCache",
	"TestLifecycle",
	"TestInitValidation",
	"TestPeerWriteDuringLocalReadMiss",
	"TestConcurrentLocalAndPeerWrites",
	"TestPeripheralServesPeer",
	"TestNotifyRequiresSubscription",
	"TestCentralDiscovery",
	"TestCentralReadWriteSubscribe",
	"TestConnectFailures",
	"TestConnectNotSupportedForPeripheral",
	"TestReadTimeoutLeavesSessionUsable",
	"TestPeriodicEventsRepublished",
	"TestL2CAPReadyAfterStart",
}

var SessionTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for SessionTestSuite.
// This method allows SessionTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *SessionTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: SessionTestSuiteTestRegistry,
		Order:    SessionTestSuiteTestOrder,
		Deps:     SessionTestSuiteDependencies,
	}
}
