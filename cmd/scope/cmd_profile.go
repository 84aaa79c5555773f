// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/AleutianScope/services/scope/datatypes"
	"github.com/AleutianAI/AleutianScope/services/scope/profile"
)

type profileInitOptions struct {
	topic string
	id    string
	attrs []string
}

// runProfileInit creates the user's profile. Missing topic or id are asked
// for with a form.
func runProfileInit(ctx context.Context, a *app, o profileInitOptions, in io.Reader, out io.Writer) (datatypes.Profile, error) {
	if o.topic == "" || o.id == "" {
		if err := askProfile(ctx, a.client, &o, in, out); err != nil {
			return datatypes.Profile{}, err
		}
	}

	p, err := a.client.Init(ctx, profile.InitRequest{Topic: o.topic, ID: o.id, Attr: o.attrs})
	if err != nil {
		return datatypes.Profile{}, err
	}
	a.logger.Info("profile created", "user", a.client.User(), "topic", p.Topic, "id", p.ID)
	fmt.Fprintf(out, "Created profile for %q: %s/%s\n", a.client.User(), p.Topic, p.ID)
	return p, nil
}

// askProfile runs the first-run form: topic, then id and attributes of
// that topic.
func askProfile(ctx context.Context, store profile.Store, o *profileInitOptions, in io.Reader, out io.Writer) error {
	topics, err := store.Topics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if len(topics) == 0 {
		return errors.New("the backend has no topics yet")
	}

	if o.topic == "" {
		o.topic = topics.Names()[0]
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Topic").
				Options(huh.NewOptions(topics.Names()...)...).
				Value(&o.topic),
		)).WithInput(in).WithOutput(out)
		if err := form.RunWithContext(ctx); err != nil {
			return err
		}
	}

	ids, err := store.IDs(ctx, o.topic)
	if err != nil {
		return fmt.Errorf("list ids of %s: %w", o.topic, err)
	}
	meta := topics[o.topic]
	if o.id == "" {
		o.id = meta.ID
	}

	var attrOptions []huh.Option[string]
	for _, a := range meta.Attr {
		if !a.Derived {
			attrOptions = append(attrOptions, huh.NewOption(a.Name, a.Name).Selected(true))
		}
	}

	fields := []huh.Field{
		huh.NewSelect[string]().
			Title("Series id").
			Options(huh.NewOptions(ids...)...).
			Value(&o.id),
	}
	if len(attrOptions) > 0 && len(o.attrs) == 0 {
		fields = append(fields, huh.NewMultiSelect[string]().
			Title("Attributes").
			Options(attrOptions...).
			Value(&o.attrs))
	}
	form := huh.NewForm(huh.NewGroup(fields...)).WithInput(in).WithOutput(out)
	return form.RunWithContext(ctx)
}

func runProfileShow(ctx context.Context, a *app, out io.Writer) error {
	p, err := a.client.Load(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
