/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import "context"

// DeserializeGeneric decodes any message whose writer schema is known to the store. The record is returned as
// written: named after the writer schema and holding exactly the writer fields.
func (c *Converter) DeserializeGeneric(ctx context.Context, msg Message) (Record, error) {
	return c.Deserialize(ctx, msg, ``)
}
