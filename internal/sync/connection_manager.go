package sync

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xelth-com/posync/internal/config"
)

// RouteOffline is the pseudo route reported while no route is reachable
const RouteOffline = "offline"

// Status is a connectivity transition delivered to subscribers
type Status struct {
	Online    bool      `json:"online"`
	Route     string    `json:"route"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor reports whether the server of record is reachable.
type Monitor interface {
	// IsOnline never blocks on the network.
	IsOnline() bool
	// On subscribes to every transition. The returned func unsubscribes.
	On(listener func(Status)) (unsubscribe func())
	// CurrentRoute returns the base URL requests should use.
	CurrentRoute() string
	// ReportFailure tells the monitor a request on route failed in transport.
	ReportFailure(route string, err error)
}

// RouteSwitch tracks when routes are switched
type RouteSwitch struct {
	FromRoute string    `json:"fromRoute"`
	ToRoute   string    `json:"toRoute"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RouteStatus tracks the health of a route
type RouteStatus struct {
	URL          string        `json:"url"`
	IsAvailable  bool          `json:"isAvailable"`
	LastCheck    time.Time     `json:"lastCheck"`
	LastSuccess  *time.Time    `json:"lastSuccess,omitempty"`
	LastFailure  *time.Time    `json:"lastFailure,omitempty"`
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	AvgLatency   time.Duration `json:"avgLatency"`
	latencySum   time.Duration
	latencyCount int
}

// ConnectionManager is the Monitor used on devices. Platform signals arrive
// through SetOnline; a health-check loop probes GET <route>/health on the
// configured routes in priority order.
type ConnectionManager struct {
	mu sync.RWMutex

	routes        []config.SyncRouteConfig
	currentRoute  string
	routeStatuses map[string]*RouteStatus
	routeHistory  []RouteSwitch
	isOnline      bool

	listeners  map[int]func(Status)
	nextListen int

	healthCheckInterval time.Duration
	healthCheckRunning  bool
	stopHealthCheck     chan struct{}

	httpClient *http.Client
}

// NewConnectionManager creates a manager for routes. It starts offline.
func NewConnectionManager(routes []config.SyncRouteConfig) *ConnectionManager {
	sorted := append([]config.SyncRouteConfig(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	cm := &ConnectionManager{
		routes:              sorted,
		currentRoute:        RouteOffline,
		routeStatuses:       make(map[string]*RouteStatus),
		listeners:           make(map[int]func(Status)),
		healthCheckInterval: 30 * time.Second,
		httpClient:          &http.Client{},
	}
	for _, route := range sorted {
		cm.routeStatuses[route.URL] = &RouteStatus{URL: route.URL}
	}
	return cm
}

// SetHealthCheckInterval sets the health check interval
func (cm *ConnectionManager) SetHealthCheckInterval(interval time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if interval > 0 {
		cm.healthCheckInterval = interval
	}
}

// Start runs one immediate check and then begins periodic health checking
func (cm *ConnectionManager) Start(ctx context.Context) {
	cm.mu.Lock()
	if cm.healthCheckRunning || len(cm.routes) == 0 {
		cm.mu.Unlock()
		return
	}
	cm.healthCheckRunning = true
	cm.stopHealthCheck = make(chan struct{})
	stop := cm.stopHealthCheck
	cm.mu.Unlock()

	go cm.healthCheckLoop(ctx, stop)
}

// Stop stops health checking
func (cm *ConnectionManager) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !cm.healthCheckRunning {
		return
	}
	cm.healthCheckRunning = false
	close(cm.stopHealthCheck)
}

// IsOnline returns whether a route is currently considered reachable
func (cm *ConnectionManager) IsOnline() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isOnline
}

// CurrentRoute returns the selected route. While offline it returns the
// highest priority route so callers still have somewhere to try.
func (cm *ConnectionManager) CurrentRoute() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.currentRoute != RouteOffline {
		return cm.currentRoute
	}
	if len(cm.routes) > 0 {
		return cm.routes[0].URL
	}
	return ""
}

// On subscribes listener to status transitions.
func (cm *ConnectionManager) On(listener func(Status)) func() {
	cm.mu.Lock()
	id := cm.nextListen
	cm.nextListen++
	cm.listeners[id] = listener
	cm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cm.mu.Lock()
			delete(cm.listeners, id)
			cm.mu.Unlock()
		})
	}
}

// SetOnline applies a platform connectivity signal. Repeating the current
// state is a no-op.
func (cm *ConnectionManager) SetOnline(online bool) {
	route := RouteOffline
	reason := "platform_offline"
	if online {
		reason = "platform_online"
		cm.mu.RLock()
		if cm.currentRoute != RouteOffline {
			route = cm.currentRoute
		} else if len(cm.routes) > 0 {
			route = cm.routes[0].URL
		} else {
			route = ""
		}
		cm.mu.RUnlock()
	}
	cm.transition(online, route, reason)
}

// ReportFailure marks route as failed after a transport error and switches
// to the next available route, or offline.
func (cm *ConnectionManager) ReportFailure(route string, err error) {
	cm.mu.Lock()
	if status, ok := cm.routeStatuses[route]; ok {
		status.IsAvailable = false
		status.FailureCount++
		now := time.Now()
		status.LastFailure = &now
	}
	next := cm.selectBestRoute(route)
	cm.mu.Unlock()

	log.WithFields(logrus.Fields{"route": route, "next": next}).WithError(err).Warn("Route failed")
	cm.transition(next != RouteOffline, next, "request_failed")
}

// CheckNow probes the routes in priority order and switches to the first
// healthy one.
func (cm *ConnectionManager) CheckNow(ctx context.Context) bool {
	cm.mu.RLock()
	routes := append([]config.SyncRouteConfig(nil), cm.routes...)
	cm.mu.RUnlock()

	for _, route := range routes {
		if cm.testConnection(ctx, route) {
			reason := "health_check_reconnect"
			if cm.IsOnline() {
				reason = "primary_restored"
			}
			cm.transition(true, route.URL, reason)
			return true
		}
	}
	cm.transition(false, RouteOffline, "all_routes_unavailable")
	return false
}

// GetRouteStatus returns a copy of the status of a specific route
func (cm *ConnectionManager) GetRouteStatus(url string) *RouteStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	status, ok := cm.routeStatuses[url]
	if !ok {
		return nil
	}
	copied := *status
	return &copied
}

// GetAllRouteStatuses returns copies of all route statuses
func (cm *ConnectionManager) GetAllRouteStatuses() map[string]RouteStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	result := make(map[string]RouteStatus, len(cm.routeStatuses))
	for k, v := range cm.routeStatuses {
		result[k] = *v
	}
	return result
}

// GetRouteHistory returns the route switch history
func (cm *ConnectionManager) GetRouteHistory() []RouteSwitch {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return append([]RouteSwitch(nil), cm.routeHistory...)
}

// transition updates state and notifies subscribers outside the lock when
// online state or route changed.
func (cm *ConnectionManager) transition(online bool, route, reason string) {
	cm.mu.Lock()
	if cm.isOnline == online && cm.currentRoute == route {
		cm.mu.Unlock()
		return
	}
	cm.logRouteSwitch(cm.currentRoute, route, reason)
	changed := cm.isOnline != online
	cm.isOnline = online
	cm.currentRoute = route

	status := Status{Online: online, Route: route, Reason: reason, Timestamp: time.Now().UTC()}
	listeners := make([]func(Status), 0, len(cm.listeners))
	if changed {
		ids := make([]int, 0, len(cm.listeners))
		for id := range cm.listeners {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			listeners = append(listeners, cm.listeners[id])
		}
	}
	cm.mu.Unlock()

	for _, l := range listeners {
		l(status)
	}
}

// testConnection probes route/health and records the outcome
func (cm *ConnectionManager) testConnection(ctx context.Context, route config.SyncRouteConfig) bool {
	timeout := time.Duration(route.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ok := false
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, route.URL+"/health", nil)
	if err == nil {
		var resp *http.Response
		resp, err = cm.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			ok = resp.StatusCode == http.StatusOK
		}
	}
	latency := time.Since(start)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	status := cm.routeStatuses[route.URL]
	now := time.Now()
	status.LastCheck = now
	if !ok {
		status.IsAvailable = false
		status.FailureCount++
		status.LastFailure = &now
		log.WithField("route", route.URL).WithError(err).Debug("Route health check failed")
		return false
	}

	status.IsAvailable = true
	status.SuccessCount++
	status.LastSuccess = &now
	status.FailureCount = 0
	status.latencySum += latency
	status.latencyCount++
	status.AvgLatency = status.latencySum / time.Duration(status.latencyCount)
	return true
}

// logRouteSwitch records a route switch. Caller holds mu.
func (cm *ConnectionManager) logRouteSwitch(fromRoute, toRoute, reason string) {
	if fromRoute == toRoute {
		return
	}
	cm.routeHistory = append(cm.routeHistory, RouteSwitch{
		FromRoute: fromRoute,
		ToRoute:   toRoute,
		Reason:    reason,
		Timestamp: time.Now(),
	})

	// Keep only last 100 switches
	if len(cm.routeHistory) > 100 {
		cm.routeHistory = cm.routeHistory[len(cm.routeHistory)-100:]
	}

	log.WithFields(logrus.Fields{"from": fromRoute, "to": toRoute, "reason": reason}).Info("Route switched")
}

// healthCheckLoop periodically checks route health
func (cm *ConnectionManager) healthCheckLoop(ctx context.Context, stop chan struct{}) {
	cm.CheckNow(ctx)

	cm.mu.RLock()
	interval := cm.healthCheckInterval
	cm.mu.RUnlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.CheckNow(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// selectBestRoute returns the first available route other than exclude.
// Caller holds mu.
func (cm *ConnectionManager) selectBestRoute(exclude string) string {
	for _, route := range cm.routes {
		if route.URL == exclude {
			continue
		}
		if status := cm.routeStatuses[route.URL]; status != nil && status.IsAvailable {
			return route.URL
		}
	}
	return RouteOffline
}
