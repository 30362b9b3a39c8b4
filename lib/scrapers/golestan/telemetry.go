package golestan

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("scrapers/golestan")
