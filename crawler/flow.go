package crawler

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Flow is an ordered list of pages recorded from a user journey. Each step
// is scanned in order, even when it revisits a URL, and its findings are
// grouped by step rather than by URL.
type Flow struct {
	Name  string     `yaml:"name"`
	Steps []FlowStep `yaml:"steps"`
}

// FlowStep is one page of a flow.
type FlowStep struct {
	URL   string `yaml:"url"`
	Title string `yaml:"title"`
}

// LoadFlow reads a flow file.
//
//	name: checkout
//	steps:
//	  - url: https://shop.example.com/
//	    title: Home
//	  - url: https://shop.example.com/cart
//	    title: Cart
func LoadFlow(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	var flow Flow
	if err := yaml.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("parse flow %s: %w", path, err)
	}
	if len(flow.Steps) == 0 {
		return nil, errors.New("flow has no steps")
	}
	for i, step := range flow.Steps {
		if step.URL == "" {
			return nil, fmt.Errorf("flow step %d has no url", i+1)
		}
	}
	return &flow, nil
}

// flowTarget builds the crawl target of step i. Steps are keyed by position so
// a URL visited twice is scanned twice.
func flowTarget(i int, step FlowStep) Target {
	return Target{
		URL:       step.URL,
		Key:       fmt.Sprintf("step:%d:%s", i+1, step.URL),
		PageIndex: i + 1,
		Title:     step.Title,
	}
}
