/*
Package resilience provides circuit breakers for outbound integration calls.

A breaker opens after FailureThreshold consecutive failures, rejects calls
with ErrCircuitOpen for Cooldown, then lets Probes calls through half-open.
All probes succeeding closes it again; any probe failing reopens it.

	breaker := resilience.New("github", resilience.DefaultConfig())
	err := breaker.Do(ctx, func(ctx context.Context) error {
		_, err := client.R().SetContext(ctx).Get(url)
		return err
	})

Group keeps one breaker per key, which the Kubernetes plugin uses per cluster.
*/
package resilience
