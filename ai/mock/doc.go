// Package mock provides test doubles for the ai interfaces with
// deterministic default behavior and function-field injection.
package mock
