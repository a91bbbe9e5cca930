package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careslot/booking-service/internal/config"
	"github.com/careslot/booking-service/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	ReadRatio    float64
	SlotLimit    int
	PostgresDSN  string
}

// bookedReservation is what a confirm needs: the appointment, the OTP that
// came back and the identity that booked it.
type bookedReservation struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	OTP           string
}

type slotRef struct {
	SlotID   uuid.UUID
	DoctorID uuid.UUID
}

type DataPool struct {
	Slots    []slotRef
	Patients []uuid.UUID

	mu           sync.RWMutex
	reservations []bookedReservation
}

func (dp *DataPool) AddReservation(r bookedReservation) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.reservations = append(dp.reservations, r)
}

func (dp *DataPool) RandomReservation(rng *rand.Rand) (bookedReservation, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.reservations) == 0 {
		return bookedReservation{}, false
	}
	return dp.reservations[rng.Intn(len(dp.reservations))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	return avg, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	Confirm OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics *Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(context.Background(), pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d open slots, %d simulated patients", len(dataPool.Slots), len(dataPool.Patients))

	sim := &Simulator{
		config:  cfg,
		pool:    dataPool,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: &Metrics{},
	}

	sim.Run()
	sim.Report()
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 16),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.3),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id, doctor_id FROM time_slots
		WHERE status = 'free' AND start_time > now()
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref slotRef
		if err := rows.Scan(&ref.SlotID, &ref.DoctorID); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, ref)
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no free slots loaded, run cmd/seed first")
	}

	// Identity is gateway-verified upstream, so simulated patients are just
	// stable random subject ids.
	for i := 0; i < 200; i++ {
		dataPool.Patients = append(dataPool.Patients, uuid.New())
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			default:
				s.doListAppointments(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]string{
		"doctor_id": slot.DoctorID.String(),
		"slot_id":   slot.SlotID.String(),
		"mode":      "online",
	})

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Patient-ID", patientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		func() {
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusCreated:
				success = true
				var bookResp struct {
					AppointmentID uuid.UUID `json:"appointment_id"`
					OTP           string    `json:"otp"`
				}
				bodyBytes, _ := io.ReadAll(resp.Body)
				if json.Unmarshal(bodyBytes, &bookResp) == nil && bookResp.AppointmentID != uuid.Nil {
					s.pool.AddReservation(bookedReservation{
						AppointmentID: bookResp.AppointmentID,
						PatientID:     patientID,
						OTP:           bookResp.OTP,
					})
				}
			case http.StatusConflict:
				conflict = true
			}
		}()
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	res, ok := s.pool.RandomReservation(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"otp": res.OTP})

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/confirm", s.config.APIBaseURL, res.AppointmentID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Patient-ID", res.PatientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			success = true
		case http.StatusConflict:
			// second confirm of the same reservation, expected under load
			conflict = true
		}
	}

	s.metrics.Confirm.Record(latency, success, conflict)
}

func (s *Simulator) doListAppointments(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/appointments", nil)
	req.Header.Set("X-Patient-ID", patientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Read.Record(latency, success, false)
}

func (s *Simulator) Report() {
	report := func(name string, om *OperationMetrics) {
		avg, p50, p95 := om.Stats()
		log.Printf("%-8s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
			name, om.Total, om.Success, om.Conflict, om.Error, avg, p50, p95)
	}

	report("book", &s.metrics.Booking)
	report("confirm", &s.metrics.Confirm)
	report("read", &s.metrics.Read)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
