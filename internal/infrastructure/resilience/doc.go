/*
Package resilience provides a circuit breaker for apps that talk to
unreliable network endpoints.

	breaker := resilience.New("status", resilience.Settings{
		Threshold: 3,
		Cooldown:  30 * time.Second,
	})

	code, err := resilience.Execute(breaker, func() (int, error) {
		return check(ctx)
	})

Closed counts consecutive failures and opens at Threshold. Open rejects
every call with ErrCircuitOpen until Cooldown has passed, then the breaker
is half-open and admits one trial call: success closes it, failure opens it
for another Cooldown.
*/
package resilience
