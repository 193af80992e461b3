package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type product struct {
	ID   int64
	Name string
}

type model struct {
	products    []product
	scenarios   []scenario
	selectedPrd int
	selectedScn int
	orderID     int64
	status      string
	metrics     string
	busy        bool
}

func initialModel(orderID int64) model {
	return model{
		products: []product{{1, "Smartphone"}, {2, "Laptop"}},
		scenarios: []scenario{
			{"add", "Add 2 items"},
			{"merge", "Add 3 more of the same product"},
			{"oversell", "Add 10 more than the stock allows"},
			{"unknown-order", "Add to an order that does not exist"},
			{"bench", "Concurrent adds against one product"},
		},
		orderID: orderID,
		status:  "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedPrd > 0 {
				m.selectedPrd--
			}
		case "down":
			if m.selectedPrd < len(m.products)-1 {
				m.selectedPrd++
			}
		case "left":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "right":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selectedScn].Name, m.orderID, m.products[m.selectedPrd].ID)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.metrics = msg.metrics
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "tx-lab-orders-go CLI")
	fmt.Fprintf(b, "Order: %d\n\n", m.orderID)
	fmt.Fprintln(b, "Products:")
	for i, p := range m.products {
		marker := " "
		if i == m.selectedPrd {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %d %s\n", marker, p.ID, p.Name)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios (use left/right):")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = "*"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(b, "Metrics: %s\n", m.metrics)
	}
	fmt.Fprintln(b, "\nControls: up/down select product, left/right select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	metrics string
}

func runScenarioCmd(scn string, orderID, productID int64) tea.Cmd {
	return func() tea.Msg {
		baseURL := getenv("ORDER_BASE_URL", "http://localhost:8080")
		var qty int
		switch scn {
		case "bench":
			return scenarioResult{status: "Benchmark finished", metrics: runBenchmark(baseURL, orderID, productID)}
		case "add":
			qty = 2
		case "merge":
			qty = 3
		case "oversell":
			qty = 10
		case "unknown-order":
			orderID, qty = 999999, 1
		default:
			return scenarioResult{status: fmt.Sprintf("Unknown scenario %q", scn)}
		}
		code, body, err := addItem(baseURL, orderID, productID, qty)
		if err != nil {
			return scenarioResult{status: fmt.Sprintf("Request failed: %v", err)}
		}
		return scenarioResult{status: fmt.Sprintf("HTTP %d: %s", code, strings.TrimSpace(body))}
	}
}

func addItem(baseURL string, orderID, productID int64, qty int) (int, string, error) {
	data, _ := json.Marshal(map[string]any{"order_id": orderID, "product_id": productID, "quantity": qty})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.TrimRight(baseURL, "/") + "/orders/add-item"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), nil
}

func runBenchmark(baseURL string, orderID, productID int64) string {
	duration := 5 * time.Second
	vus := 5
	var mu sync.Mutex
	var total time.Duration
	var count, conflicts, errors int
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					start := time.Now()
					code, _, err := addItem(baseURL, orderID, productID, 1)
					mu.Lock()
					switch {
					case err != nil || code >= 500:
						errors++
					case code == http.StatusConflict:
						conflicts++
					default:
						count++
						total += time.Since(start)
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	throughput := float64(count) / duration.Seconds()
	return fmt.Sprintf("added=%d conflicts=%d errors=%d avg=%s throughput=%.2f req/s", count, conflicts, errors, avg, throughput)
}

func main() {
	runCmd := flag.String("run", "", "run scenario: add|merge|oversell|unknown-order|bench")
	orderID := flag.Int64("order", 1, "order id")
	productID := flag.Int64("product", 1, "product id")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd, *orderID, *productID)().(scenarioResult)
		fmt.Println(res.status)
		if res.metrics != "" {
			fmt.Println(res.metrics)
		}
		return
	}

	p := tea.NewProgram(initialModel(*orderID))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
