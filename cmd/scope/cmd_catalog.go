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
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

func runTopics(ctx context.Context, a *app, out io.Writer) error {
	topics, err := a.client.Topics(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tDEFAULT ID\tHOSTS\tATTRIBUTES")
	for _, name := range topics.Names() {
		meta := topics[name]
		attrs := make([]string, 0, len(meta.Attr))
		for _, a := range meta.Attr {
			if a.Derived {
				attrs = append(attrs, "@"+a.Name)
			} else {
				attrs = append(attrs, a.Name)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, meta.ID, strings.Join(meta.Host, ","), strings.Join(attrs, ","))
	}
	return w.Flush()
}

func runIDs(ctx context.Context, a *app, topic string, out io.Writer) error {
	ids, err := a.client.IDs(ctx, topic)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}
