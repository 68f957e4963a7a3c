package main

import (
	"encoding/json"
	"fmt"

	"github.com/brojonat/walletwatch/service/solana"
	"github.com/itchyny/gojq"
)

func compileFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// filterRecords keeps records for which every filter yields a truthy first value.
func filterRecords(records []*solana.Record, filters []*gojq.Code) ([]*solana.Record, error) {
	if len(filters) == 0 {
		return records, nil
	}

	var out []*solana.Record
	for _, rec := range records {
		doc, err := toJQInput(rec)
		if err != nil {
			return nil, err
		}
		if matchAll(doc, filters) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// toJQInput converts a record to the generic map form gojq walks.
func toJQInput(rec *solana.Record) (interface{}, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %s: %w", rec.Signature, err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", rec.Signature, err)
	}
	return doc, nil
}

func matchAll(doc interface{}, filters []*gojq.Code) bool {
	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
