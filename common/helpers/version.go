// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package helpers

// CnetflowVersion contains the current version of cnetflow. It is
// overridden at build time with -ldflags.
var CnetflowVersion = "dev"
