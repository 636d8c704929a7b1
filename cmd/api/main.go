// cmd/api/main.go
package main

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
)

func main() {
	segmentsServiceURL, _ := url.Parse(getEnv("SEGMENTS_SERVICE_URL", "http://localhost:8081"))
	promotionsServiceURL, _ := url.Parse(getEnv("PROMOTIONS_SERVICE_URL", "http://localhost:8082"))
	loyaltyServiceURL, _ := url.Parse(getEnv("LOYALTY_SERVICE_URL", "http://localhost:8083"))

	segmentsProxy := httputil.NewSingleHostReverseProxy(segmentsServiceURL)
	promotionsProxy := httputil.NewSingleHostReverseProxy(promotionsServiceURL)
	loyaltyProxy := httputil.NewSingleHostReverseProxy(loyaltyServiceURL)

	// Each service mounts its own path prefixes, so the gateway only strips
	// the version prefix before forwarding. Collection roots are registered
	// without the trailing slash as well, otherwise ServeMux answers POSTs
	// with a 301 the client replays as a GET.
	http.Handle("/api/v1/segments", http.StripPrefix("/api/v1", segmentsProxy))
	http.Handle("/api/v1/segments/", http.StripPrefix("/api/v1", segmentsProxy))
	http.Handle("/api/v1/customers/", http.StripPrefix("/api/v1", segmentsProxy))
	http.Handle("/api/v1/promotions", http.StripPrefix("/api/v1", promotionsProxy))
	http.Handle("/api/v1/promotions/", http.StripPrefix("/api/v1", promotionsProxy))
	http.Handle("/api/v1/checkout/", http.StripPrefix("/api/v1", promotionsProxy))
	http.Handle("/api/v1/loyalty/", http.StripPrefix("/api/v1", loyaltyProxy))

	port := getEnv("PORT", "8080")
	log.Printf("API Gateway listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
