package main

import "metricdrop/cmd"

func main() {
    cmd.Execute()
}
