package stage

// Health is one stage's readiness report, surfaced through the daemon
// status view so operators can see which stage is blocking the pipeline.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports a ready stage.
func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy reports a blocked stage; detail says what is missing, for
// example an unreachable endpoint or an unconfigured tool binary.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
